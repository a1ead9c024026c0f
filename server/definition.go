package server

import "tubewatch/models"

type stringParam struct {
	MinLength int      `json:"min_length"`
	MaxLength int      `json:"max_length"`
	Choices   []string `json:"choices"`
	MultiLine bool     `json:"multi_line"`
}

type commandParam struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Placeholder string `json:"placeholder"`
	ParamType   struct {
		StringParam stringParam `json:"StringParam"`
	} `json:"param_type"`
}

type commandDefinition struct {
	Name        string             `json:"name"`
	DefaultRole string             `json:"default_role"`
	Description string             `json:"description"`
	Permissions models.Permissions `json:"permissions"`
	Params      []commandParam     `json:"params"`
}

type botDefinition struct {
	Description      string `json:"description"`
	AutonomousConfig struct {
		SyncAPIKey  bool               `json:"sync_api_key"`
		Permissions models.Permissions `json:"permissions"`
	} `json:"autonomous_config"`
	Commands []commandDefinition `json:"commands"`
}

func textOnly() models.Permissions {
	return models.Permissions{
		Chat:      []string{},
		Community: []string{},
		Message:   []string{models.TextPermission},
	}
}

func channelParam(description, placeholder string) []commandParam {
	p := commandParam{
		Name:        "channel_id",
		Required:    true,
		Description: description,
		Placeholder: placeholder,
	}
	p.ParamType.StringParam = stringParam{MinLength: 1, MaxLength: 1000, Choices: []string{}}
	return []commandParam{p}
}

// definition is the command schema the chat platform reads to register the bot
func definition() botDefinition {
	var d botDefinition
	d.Description = "This bot allows you to subscribe to a youtube channel and will post an update to your group or channel when a new video is posted."
	d.AutonomousConfig.SyncAPIKey = true
	d.AutonomousConfig.Permissions = textOnly()
	d.Commands = []commandDefinition{
		{
			Name:        "most_recent",
			DefaultRole: "Participant",
			Description: "Get the most recent video for one of your subscribed channels.",
			Permissions: textOnly(),
			Params:      channelParam("The YouTube channel that you wish to check", "Enter the YouTube channel to check"),
		},
		{
			Name:        "list",
			DefaultRole: "Participant",
			Description: "List the current Youtube channel subscriptions for this context",
			Permissions: textOnly(),
			Params:      []commandParam{},
		},
		{
			Name:        "refresh",
			DefaultRole: "Participant",
			Description: "Refresh your current subscriptions and post videos if there are any. Note your subscriptions will be checked every half an hour automatically.",
			Permissions: textOnly(),
			Params:      []commandParam{},
		},
		{
			Name:        "subscribe",
			DefaultRole: "Owner",
			Description: "Subscribe to a specific YouTube channel",
			Permissions: textOnly(),
			Params:      channelParam("The YouTube channel that you wish to subscribe to", "Enter the YouTube channel to subscribe to"),
		},
		{
			Name:        "unsubscribe",
			DefaultRole: "Owner",
			Description: "Unsubscribe from a specific YouTube channel",
			Permissions: textOnly(),
			Params:      channelParam("The YouTube channel that you wish to unsubscribe from", "Enter the YouTube channel to unsubscribe from"),
		},
		{
			Name:        "unsubscribe_all",
			DefaultRole: "Owner",
			Description: "Unsubscribe from every YouTube channel in this context",
			Permissions: textOnly(),
			Params:      []commandParam{},
		},
	}
	return d
}
