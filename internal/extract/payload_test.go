package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMineScriptVariables(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body>
<script type="text/javascript">
var msg_title = "Deep Dive &quot;Internals&quot;";
var msg_desc = htmlDecode("What the runtime really does");
var msg_link = "http://mp.weixin.qq.com/s/AbCd1234";
var msg_cdn_url = "https://cdn.example.com/cover.jpg";
var nickname = "Systems Weekly";
var user_name = "gh_0123456789ab";
var ct = "1700000000";
var read_num = "18234";
var like_num = "96";
</script>
</body></html>`)

	p := Mine(body)
	require.False(t, p.Empty())
	require.Equal(t, `Deep Dive "Internals"`, p.Title)
	require.Equal(t, "What the runtime really does", p.Description)
	require.Equal(t, "http://mp.weixin.qq.com/s/AbCd1234", p.Link)
	require.Equal(t, "https://cdn.example.com/cover.jpg", p.CoverURL)
	require.Equal(t, "Systems Weekly", p.Nickname)
	require.Equal(t, "gh_0123456789ab", p.AccountID)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), p.PublishedAt)
	require.Equal(t, 18234, p.ReadCount)
	require.Equal(t, 96, p.LikeCount)
}

func TestMineRelatedList(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body><script>
window.related_article_list = [
  {"url": "http:\/\/mp.weixin.qq.com\/s\/First111", "title": "First"},
  {"url": "http:\/\/mp.weixin.qq.com\/s\/Second22", "title": "Second"},
  {"url": "http:\/\/mp.weixin.qq.com\/s\/First111", "title": "First again"}
];
</script></body></html>`)

	p := Mine(body)
	require.Equal(t, []string{
		"http://mp.weixin.qq.com/s/First111",
		"http://mp.weixin.qq.com/s/Second22",
	}, p.RelatedLinks)
}

func TestMineArticleLinks(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body>
<a href="https://mp.weixin.qq.com/s/InMarkup">not mined, lives in markup</a>
<script>
var a = "https:\/\/mp.weixin.qq.com\/s\/FromScript1";
var b = "https://mp.weixin.qq.com/s/FromScript2?chksm=abc";
var c = "https://mp.weixin.qq.com/s?action=profile&id=9";
var again = "https://mp.weixin.qq.com/s/FromScript1";
</script>
</body></html>`)

	links := MineArticleLinks(body)
	require.Equal(t, []string{
		"https://mp.weixin.qq.com/s/FromScript1",
		"https://mp.weixin.qq.com/s/FromScript2?chksm=abc",
	}, links)
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{raw: "2024-03-15", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), ok: true},
		{raw: "2024-03-15 08:30", want: time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC), ok: true},
		{raw: "2024-03-15 08:30:45", want: time.Date(2024, 3, 15, 8, 30, 45, 0, time.UTC), ok: true},
		{raw: "2024年03月15日", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), ok: true},
		{raw: "1700000000", want: time.Unix(1700000000, 0).UTC(), ok: true},
		{raw: "2024-03-15T08:30:45Z", want: time.Date(2024, 3, 15, 8, 30, 45, 0, time.UTC), ok: true},
		{raw: "", ok: false},
		{raw: "soon", ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseTime(tt.raw)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}
