package extract

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mpharvester/internal/harvest"
)

const articlePage = `<!DOCTYPE html>
<html>
<head>
<meta property="og:title" content="Weekly Digest #12" />
<meta property="og:image" content="https://cdn.example.com/og-cover.jpg" />
</head>
<body>
<h1 class="rich_media_title" id="activity-name"> Weekly Digest #12 </h1>
<div class="rich_media_meta_list">
  <span id="js_author_name">作者: 张三</span>
  <span id="js_name">Tech&nbsp;Weekly</span>
  <em id="publish_time">2024年03月15日</em>
</div>
<div id="js_content">
  <section><p>First&nbsp;paragraph with   extra spaces.</p></section>
  <section>
    <p>Second paragraph.</p>
    <img data-src="//img.example.com/pic-1.jpg" />
    <img src="/local/pic-2.jpg" />
    <img data-src="//img.example.com/pic-1.jpg" />
  </section>
  <script>var ignored = "should not leak into content";</script>
</div>
<script>
var msg_title = "Weekly Digest #12";
var msg_cdn_url = "https://cdn.example.com/js-cover.jpg";
var ct = "1710460800";
</script>
</body>
</html>`

func TestExtractSemanticStrategy(t *testing.T) {
	t.Parallel()

	e := New(zap.NewNop(), fixedClock{})
	page := harvest.Page{
		URL:  "https://mp.weixin.qq.com/s/AbCd1234",
		Body: []byte(articlePage),
	}

	record, err := e.Extract(page)
	require.NoError(t, err)
	require.Equal(t, StrategySemantic, record.ExtractedBy)
	require.Equal(t, "Weekly Digest #12", record.Title)
	require.Equal(t, "张三", record.Author)
	require.Equal(t, "Tech Weekly", record.AccountName)
	require.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), record.PublishTime)
	require.Equal(t, now, record.CrawlTime)

	require.Contains(t, record.Content, "First paragraph with extra spaces.")
	require.Contains(t, record.Content, "Second paragraph.")
	require.NotContains(t, record.Content, "should not leak")

	require.Equal(t, []string{
		"https://img.example.com/pic-1.jpg",
		"https://mp.weixin.qq.com/local/pic-2.jpg",
	}, record.Images)
	// The payload cover wins over og:image and content images.
	require.Equal(t, "https://cdn.example.com/js-cover.jpg", record.CoverImage)
}

func TestExtractPatternFallback(t *testing.T) {
	t.Parallel()

	page := harvest.Page{
		URL: "https://mp.weixin.qq.com/s/Fallback1",
		Body: []byte(`<html><head>
<meta property="og:title" content="Meta Title" />
<meta name="author" content="Li Lei" />
<meta property="article:published_time" content="2023-06-01 08:30" />
</head><body>
<div class="rich_media_content"><p>Body from the pattern pass.</p></div>
</body></html>`),
	}

	record, err := New(zap.NewNop(), fixedClock{}).Extract(page)
	require.NoError(t, err)
	require.Equal(t, StrategyPatterns, record.ExtractedBy)
	require.Equal(t, "Meta Title", record.Title)
	require.Equal(t, "Li Lei", record.Author)
	require.Equal(t, "Body from the pattern pass.", record.Content)
	require.Equal(t, time.Date(2023, 6, 1, 8, 30, 0, 0, time.UTC), record.PublishTime)
}

func TestExtractPayloadFallback(t *testing.T) {
	t.Parallel()

	page := harvest.Page{
		URL: "https://mp.weixin.qq.com/s/PayloadOnly",
		Body: []byte(`<html><body><div id="app"></div>
<script>
var msg_title = "Payload Title";
var msg_desc = "A short description of the article.";
var nickname = "Payload Account";
var publish_time = "2022-11-05";
</script></body></html>`),
	}

	record, err := New(zap.NewNop(), fixedClock{}).Extract(page)
	require.NoError(t, err)
	require.Equal(t, StrategyPayload, record.ExtractedBy)
	require.Equal(t, "Payload Title", record.Title)
	require.Equal(t, "A short description of the article.", record.Content)
	require.Equal(t, "Payload Account", record.AccountName)
	require.Equal(t, time.Date(2022, 11, 5, 0, 0, 0, 0, time.UTC), record.PublishTime)
}

func TestExtractFailsWithoutTitleAndBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "empty shell", body: `<html><body><div id="app"></div></body></html>`},
		{name: "title only", body: `<html><body><h1 id="activity-name">Orphan Title</h1></body></html>`},
		{name: "body only", body: `<html><body><div id="js_content"><p>text</p></div></body></html>`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			page := harvest.Page{URL: "https://mp.weixin.qq.com/s/Broken", Body: []byte(tt.body)}
			record, err := New(zap.NewNop(), fixedClock{}).Extract(page)
			require.Nil(t, record)
			require.Error(t, err)
			require.True(t, harvest.IsPermanent(err))

			var xerr *harvest.ExtractionError
			require.True(t, errors.As(err, &xerr))
			require.Equal(t, "https://mp.weixin.qq.com/s/Broken", xerr.URL)
		})
	}
}

func TestExtractPrefersFinalURL(t *testing.T) {
	t.Parallel()

	page := harvest.Page{
		URL:      "https://mp.weixin.qq.com/s/Short",
		FinalURL: "https://mp.weixin.qq.com/s/Redirected",
		Body: []byte(`<html><body>
<h1 id="activity-name">T</h1><div id="js_content"><p>B</p></div>
</body></html>`),
	}

	record, err := New(zap.NewNop(), fixedClock{}).Extract(page)
	require.NoError(t, err)
	require.Equal(t, "https://mp.weixin.qq.com/s/Redirected", record.URL)
}

func TestNormalizeBlockCollapsesBlankRuns(t *testing.T) {
	t.Parallel()

	got := normalizeBlock("\n\n  one   line \n\n\n\ntwo\n\n")
	require.Equal(t, "one line\n\ntwo", got)
}

func TestStripAuthorPrefix(t *testing.T) {
	t.Parallel()

	require.Equal(t, "张三", stripAuthorPrefix("作者：张三"))
	require.Equal(t, "张三", stripAuthorPrefix("作者: 张三"))
	require.Equal(t, "Plain Author", stripAuthorPrefix("Plain Author"))
}

var now = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }
