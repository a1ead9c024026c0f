package youtube_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tubewatch/models"
	"tubewatch/youtube"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const channelID = "UCabcdefghijklmnopqrstuv"

const atomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
 <title>Test Channel</title>
 <link rel="alternate" href="https://www.youtube.com/channel/UCabcdefghijklmnopqrstuv"/>
 <published>2020-01-01T00:00:00+00:00</published>
 <entry>
  <id>yt:video:new</id>
  <title>Newest video</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=new"/>
  <published>2024-05-01T12:00:00+00:00</published>
 </entry>
 <entry>
  <id>yt:video:mid</id>
  <title>Middle video</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=mid"/>
  <published>2024-04-01T12:00:00+00:00</published>
 </entry>
 <entry>
  <id>yt:video:untitled</id>
  <title></title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=untitled"/>
  <published>2024-04-15T12:00:00+00:00</published>
 </entry>
 <entry>
  <id>yt:video:old</id>
  <title>Old video</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=old"/>
  <published>2024-01-01T12:00:00+00:00</published>
 </entry>
</feed>`

func newFeedServer(t *testing.T) *youtube.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("channel_id") {
		case channelID:
			w.Header().Set("Content-Type", "application/atom+xml")
			_, _ = w.Write([]byte(atomFeed))
		case "UCgarbagegarbagegarbage0":
			_, _ = w.Write([]byte("<html>not a feed</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return youtube.NewClient(srv.URL+"/feeds/videos.xml", 5*time.Second)
}

func TestFetchSince(t *testing.T) {
	client := newFeedServer(t)

	tests := []struct {
		name     string
		since    time.Time
		expected []string
	}{
		{"everything", time.Time{}, []string{"Newest video", "Middle video", "Old video"}},
		{"after middle", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), []string{"Newest video", "Middle video"}},
		{"strictly after", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := client.FetchSince(context.Background(), channelID, tt.since)
			items, ok := res.(models.FeedItems)
			require.True(t, ok, "expected FeedItems, got %T", res)

			titles := []string{}
			for _, it := range items.Items {
				titles = append(titles, it.Title)
			}
			assert.Equal(t, tt.expected, titles)
		})
	}
}

func TestFetchSinceItemFields(t *testing.T) {
	client := newFeedServer(t)
	res := client.FetchSince(context.Background(), channelID, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC))
	items := res.(models.FeedItems).Items
	require.Len(t, items, 1)
	assert.Equal(t, "https://www.youtube.com/watch?v=new", items[0].Link)
	assert.True(t, items[0].PublishedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestFetchSinceFailures(t *testing.T) {
	client := newFeedServer(t)

	for _, id := range []string{"UCmissingmissingmissing00", "UCgarbagegarbagegarbage0"} {
		res := client.FetchSince(context.Background(), id, time.Time{})
		failed, ok := res.(models.FetchFailed)
		require.True(t, ok, "expected FetchFailed for %s, got %T", id, res)
		assert.Error(t, failed.Err)
	}
}

func TestChannelName(t *testing.T) {
	client := newFeedServer(t)

	name, err := client.ChannelName(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, "Test Channel", name)

	_, err = client.ChannelName(context.Background(), "UCmissingmissingmissing00")
	assert.ErrorContains(t, err, "status 404")
}

func TestValidChannelID(t *testing.T) {
	tests := []struct {
		id       string
		expected bool
	}{
		{channelID, true},
		{"UC-_abcdefghijklmnopqrst", true},
		{"", false},
		{"UCabc", false},
		{"XXabcdefghijklmnopqrstuv", false},
		{"UCabcdefghijklmnopqrstuvw", false},
		{"UCabcdefghijklmnopqrst!v", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.expected, youtube.ValidChannelID(tt.id))
		})
	}
}

func TestFeedURL(t *testing.T) {
	client := youtube.NewClient("", time.Second)
	assert.Equal(t, "https://www.youtube.com/feeds/videos.xml?channel_id="+channelID, client.FeedURL(channelID))
}
