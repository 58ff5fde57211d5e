package harvest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectorFlagsVerificationRedirect(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector(nil, nil, nil)
	page := Page{
		URL:      "https://mp.weixin.qq.com/s/abc",
		FinalURL: "https://mp.weixin.qq.com/mp/wappoc_appmsgcaptcha?poc_token=x",
		Body:     []byte("<html></html>"),
	}
	marker, blocked := d.Blocked(page)
	require.True(t, blocked)
	require.Equal(t, "url:wappoc_appmsgcaptcha", marker)
}

func TestDetectorFlagsBodyMarkers(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector(nil, nil, nil)
	page := Page{
		URL:        "https://mp.weixin.qq.com/s/abc",
		StatusCode: 200,
		Body:       []byte("<html><body><p>当前环境异常，完成验证后即可继续访问。</p></body></html>"),
	}
	marker, blocked := d.Blocked(page)
	require.True(t, blocked)
	require.Contains(t, marker, "body:")
}

func TestDetectorFlagsBlockStatusCodes(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector(nil, nil, nil)
	for _, code := range []int{403, 412, 429} {
		page := Page{URL: "https://mp.weixin.qq.com/s/abc", StatusCode: code, Body: []byte("x")}
		_, blocked := d.Blocked(page)
		require.True(t, blocked, "status %d should read as a soft block", code)
	}
}

func TestDetectorPassesCleanPage(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector(nil, nil, nil)
	page := Page{
		URL:        "https://mp.weixin.qq.com/s/abc",
		FinalURL:   "https://mp.weixin.qq.com/s/abc",
		StatusCode: 200,
		Body:       []byte(`<html><body><h1 id="activity-name">深度解析</h1><div id="js_content">正文</div></body></html>`),
	}
	marker, blocked := d.Blocked(page)
	require.False(t, blocked)
	require.Empty(t, marker)
	require.False(t, d.Gone(page))
}

func TestDetectorGonePages(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector(nil, nil, nil)
	require.True(t, d.Gone(Page{StatusCode: 404}))
	require.True(t, d.Gone(Page{StatusCode: 200, Body: []byte("<p>该内容已被发布者删除</p>")}))
	require.False(t, d.Gone(Page{StatusCode: 200, Body: []byte("<p>ok</p>")}))
}

func TestVisitSetMarkIfNewBasic(t *testing.T) {
	t.Parallel()

	set := NewVisitSet()
	require.True(t, set.MarkIfNew("https://mp.weixin.qq.com/s/a"))
	require.False(t, set.MarkIfNew("https://mp.weixin.qq.com/s/a"))
	require.True(t, set.MarkIfNew("https://mp.weixin.qq.com/s/b"))
	require.False(t, set.MarkIfNew(""))
	require.Equal(t, 2, set.Len())
	require.True(t, set.Seen("https://mp.weixin.qq.com/s/a"))
	require.False(t, set.Seen("https://mp.weixin.qq.com/s/zzz"))
}
