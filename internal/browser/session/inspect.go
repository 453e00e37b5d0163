// internal/browser/session/inspect.go
package session

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var loginPhrases = []string{"login", "log in", "sign in", "signin"}

// inspectPage extracts the title from a serialized DOM and decides whether the
// page is asking for credentials: a password input must be present and the
// visible text has to mention logging in.
func inspectPage(source string) (title string, loginRequired bool, err error) {
	doc, err := htmlquery.Parse(strings.NewReader(source))
	if err != nil {
		return "", false, fmt.Errorf("failed to parse page source: %w", err)
	}

	if node := htmlquery.FindOne(doc, "//title"); node != nil {
		title = strings.TrimSpace(htmlquery.InnerText(node))
	}

	password := htmlquery.FindOne(doc, "//input[translate(@type,'PASSWORD','password')='password']")
	if password == nil {
		return title, false, nil
	}

	text := strings.ToLower(visibleText(doc))
	for _, phrase := range loginPhrases {
		if strings.Contains(text, phrase) {
			return title, true, nil
		}
	}
	return title, false, nil
}

// visibleText concatenates text nodes, skipping script and style content.
func visibleText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
			// Button and input labels count as visible text for login forms.
			if n.DataAtom == atom.Input {
				for _, a := range n.Attr {
					if a.Key == "value" || a.Key == "placeholder" {
						sb.WriteString(a.Val)
						sb.WriteByte(' ')
					}
				}
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
