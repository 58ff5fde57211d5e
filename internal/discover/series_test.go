package discover_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mpharvester/internal/discover"
	"mpharvester/internal/harvest"
)

func pageWith(url string, body string) harvest.Page {
	return harvest.Page{URL: url, FinalURL: url, StatusCode: 200, Body: []byte(body)}
}

func TestSeriesSeedValidation(t *testing.T) {
	t.Parallel()

	s := discover.NewSeries(zap.NewNop())
	ctx := context.Background()

	candidates, err := s.Seed(ctx, "https://mp.weixin.qq.com/s/abc123")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, harvest.StrategySeries, candidates[0].DiscoveredVia.Strategy)
	require.Zero(t, candidates[0].Depth)

	// An album directory URL is a valid series seed too.
	candidates, err = s.Seed(ctx, "https://mp.weixin.qq.com/mp/appmsgalbum?action=getalbum&album_id=42")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	_, err = s.Seed(ctx, "https://example.com/s/abc123")
	require.Error(t, err)
	require.True(t, harvest.IsPermanent(err))

	_, err = s.Seed(ctx, "   ")
	require.Error(t, err)
}

func TestSeriesExpandFollowsAlbumNavigation(t *testing.T) {
	t.Parallel()

	body := `<html><body>
		<h1 id="activity-name">Weekly Digest #12</h1>
		<div id="js_content"><p>content</p></div>
		<div class="album_read_nav_prev"><a href="https://mp.weixin.qq.com/s/prev11">Weekly Digest #11</a></div>
		<div class="album_read_nav_next"><a href="https://mp.weixin.qq.com/s/next13">Weekly Digest #13</a></div>
		<a href="https://mp.weixin.qq.com/mp/appmsgalbum?action=getalbum&album_id=9">View series</a>
	</body></html>`

	s := discover.NewSeries(zap.NewNop())
	parent := harvest.Candidate{URL: "https://mp.weixin.qq.com/s/cur12", Depth: 1}
	record := &harvest.ArticleRecord{Title: "Weekly Digest #12"}

	candidates := s.Expand(context.Background(), parent, record, pageWith(parent.URL, body))

	var urls []string
	for _, c := range candidates {
		require.Equal(t, harvest.StrategySeries, c.DiscoveredVia.Strategy)
		require.Equal(t, parent.URL, c.DiscoveredVia.ParentURL)
		require.Equal(t, 2, c.Depth)
		urls = append(urls, c.URL)
	}
	require.Contains(t, urls, "https://mp.weixin.qq.com/s/prev11")
	require.Contains(t, urls, "https://mp.weixin.qq.com/s/next13")
	require.Contains(t, urls, "https://mp.weixin.qq.com/mp/appmsgalbum?action=getalbum&album_id=9")
}

func TestSeriesExpandMatchesTitlePatternSiblings(t *testing.T) {
	t.Parallel()

	body := `<html><body>
		<div id="js_content">
			<a href="https://mp.weixin.qq.com/s/ep5">技术周刊 第5期</a>
			<a href="https://mp.weixin.qq.com/s/other">Completely unrelated</a>
			<a href="https://mp.weixin.qq.com/s/ep7">技术周刊 第7期</a>
		</div>
	</body></html>`

	s := discover.NewSeries(zap.NewNop())
	parent := harvest.Candidate{URL: "https://mp.weixin.qq.com/s/ep6"}
	record := &harvest.ArticleRecord{Title: "技术周刊 第6期"}

	candidates := s.Expand(context.Background(), parent, record, pageWith(parent.URL, body))

	var urls []string
	for _, c := range candidates {
		urls = append(urls, c.URL)
	}
	require.Contains(t, urls, "https://mp.weixin.qq.com/s/ep5")
	require.Contains(t, urls, "https://mp.weixin.qq.com/s/ep7")
	require.NotContains(t, urls, "https://mp.weixin.qq.com/s/other")
}

func TestSeriesExpandAlbumDirectoryCollectsAllArticles(t *testing.T) {
	t.Parallel()

	listURL := "https://mp.weixin.qq.com/mp/appmsgalbum?action=getalbum&album_id=9"
	body := `<html><body>
		<ul>
			<li><a href="https://mp.weixin.qq.com/s/one">Part 1</a></li>
			<li><a href="https://mp.weixin.qq.com/s/two">Part 2</a></li>
			<li><a href="https://mp.weixin.qq.com/s/one">Part 1 again</a></li>
		</ul>
	</body></html>`

	s := discover.NewSeries(zap.NewNop())
	parent := harvest.Candidate{URL: listURL, Depth: 1}

	candidates := s.Expand(context.Background(), parent, nil, pageWith(listURL, body))
	require.Len(t, candidates, 2, "directory links dedupe within one expansion")
	require.Equal(t, "https://mp.weixin.qq.com/s/one", candidates[0].URL)
	require.Equal(t, "https://mp.weixin.qq.com/s/two", candidates[1].URL)
}

func TestAnalyzeTitlePattern(t *testing.T) {
	t.Parallel()

	cases := []struct {
		title  string
		name   string
		number int
		ok     bool
	}{
		{"Weekly Digest #12", "Weekly Digest", 12, true},
		{"深度观察 (3)", "深度观察", 3, true},
		{"深度观察（3）", "深度观察", 3, true},
		{"技术周刊 第45期", "技术周刊", 45, true},
		{"读书会【9】", "读书会", 9, true},
		{"设计笔记 Vol.7", "设计笔记", 7, true},
		{"设计笔记 vol 8", "设计笔记", 8, true},
		{"Just a plain title", "", 0, false},
		{"#12", "", 0, false},
	}
	for _, tc := range cases {
		pattern, ok := discover.AnalyzeTitlePattern(tc.title)
		require.Equal(t, tc.ok, ok, "title %q", tc.title)
		if !ok {
			continue
		}
		require.Equal(t, tc.name, pattern.SeriesName, "title %q", tc.title)
		require.Equal(t, tc.number, pattern.Number, "title %q", tc.title)
	}
}

func TestTitlePatternMatches(t *testing.T) {
	t.Parallel()

	pattern, ok := discover.AnalyzeTitlePattern("Weekly Digest #12")
	require.True(t, ok)

	require.True(t, pattern.Matches("Weekly Digest #11"))
	require.True(t, pattern.Matches("weekly digest #40"))
	require.False(t, pattern.Matches("Weekly Digest #12"), "same issue is not a sibling")
	require.False(t, pattern.Matches("Other Series #11"))
	require.False(t, pattern.Matches("Weekly Digest 第11期"), "different numbering shape")
}
