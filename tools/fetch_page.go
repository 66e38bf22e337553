package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	fetchTimeout  = 15 * time.Second
	maxFetchBytes = 1 << 20
	maxTextBytes  = 8000
)

type fetchPageArgs struct {
	URL string `json:"url"`
}

func NewFetchPage() Tool {
	return NewFetchPageWithClient(&http.Client{Timeout: fetchTimeout})
}

func NewFetchPageWithClient(client *http.Client) Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch.",
			},
		},
		"required": []string{"url"},
	}

	return NewFuncTool(
		"fetch_page",
		"Fetch a web page and extract its title and readable text, for use as drafting source material.",
		schema,
		func(ctx context.Context, args json.RawMessage) (any, error) {
			var in fetchPageArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid fetch_page args: %w", err)
			}
			if in.URL == "" {
				return nil, fmt.Errorf("url is required")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
			if err != nil {
				return nil, fmt.Errorf("invalid url: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return map[string]any{
					"url":   in.URL,
					"error": err.Error(),
				}, nil
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
			if err != nil {
				return map[string]any{
					"url":        in.URL,
					"statusCode": resp.StatusCode,
					"error":      err.Error(),
				}, nil
			}

			title, text := extractReadable(body)
			return map[string]any{
				"url":        in.URL,
				"statusCode": resp.StatusCode,
				"title":      title,
				"text":       text,
			}, nil
		},
	)
}

func extractReadable(body []byte) (string, string) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", ""
	}

	var title string
	var text strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		case html.TextNode:
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" && text.Len() < maxTextBytes {
				if text.Len() > 0 {
					text.WriteByte(' ')
				}
				text.WriteString(trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, truncateUTF8(text.String(), maxTextBytes)
}

// truncateUTF8 cuts s to at most max bytes without splitting a
// multi-byte sequence.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
