package render

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RewriteLinks passes every http(s) href on an <a> tag through fn and
// writes the result back. Other markup is preserved byte for byte. Links
// whose target starts with one of skip are left alone.
func RewriteLinks(src string, fn func(url string) (string, error), skip ...string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(src))
	var b bytes.Buffer
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return b.String(), nil
		}
		raw := z.Raw()
		if tt != html.StartTagToken {
			b.Write(raw)
			continue
		}
		// Token lowercases names in the shared buffer, so copy first.
		raw = append([]byte(nil), raw...)
		t := z.Token()
		if t.DataAtom != atom.A {
			b.Write(raw)
			continue
		}
		changed := false
		for i, a := range t.Attr {
			if a.Namespace != "" || !strings.EqualFold(a.Key, "href") || !trackable(a.Val, skip) {
				continue
			}
			next, err := fn(a.Val)
			if err != nil {
				return "", err
			}
			t.Attr[i].Val = next
			changed = true
		}
		if changed {
			b.WriteString(t.String())
		} else {
			b.Write(raw)
		}
	}
}

func trackable(href string, skip []string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	if !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://") {
		return false
	}
	for _, s := range skip {
		if s != "" && strings.HasPrefix(h, strings.ToLower(s)) {
			return false
		}
	}
	return true
}

// AppendPixel inserts a zero-size image before </body>, or at the end when
// there is no body tag.
func AppendPixel(src, pixelURL string) string {
	pixel := `<img src="` + html.EscapeString(pixelURL) + `" width="1" height="1" alt="" style="display:none;width:1px;height:1px" />`
	if idx := strings.LastIndex(strings.ToLower(src), "</body>"); idx >= 0 {
		return src[:idx] + pixel + src[idx:]
	}
	return src + pixel
}
