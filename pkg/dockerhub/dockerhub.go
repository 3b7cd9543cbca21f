// Package dockerhub lists the published tags of the environment images.
package dockerhub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the Docker Hub API root.
const DefaultBaseURL = "https://hub.docker.com"

// DefaultNamespace owns the images of emakinafr/docker-magento2.
const DefaultNamespace = "emakinafr"

// Client queries Docker Hub.
type Client struct {
	baseURL    string
	namespace  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a client. Empty arguments select the defaults.
func New(baseURL, namespace string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Client{
		baseURL:   baseURL,
		namespace: namespace,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "dockerhub").Logger(),
	}
}

// maxPages bounds pagination for repositories with long tag histories.
const maxPages = 5

// Tags returns the tag names of namespace/image, most recently pushed first.
func (c *Client) Tags(ctx context.Context, image string) ([]string, error) {
	next := fmt.Sprintf("%s/v2/repositories/%s/%s/tags?page_size=100&ordering=last_updated",
		c.baseURL, url.PathEscape(c.namespace), url.PathEscape(image))

	var tags []string
	for page := 0; next != "" && page < maxPages; page++ {
		body, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		doc := gjson.ParseBytes(body)
		doc.Get("results.#.name").ForEach(func(_, name gjson.Result) bool {
			tags = append(tags, name.String())
			return true
		})
		next = doc.Get("next").String()
	}

	if len(tags) == 0 {
		return nil, fmt.Errorf("no tags found for image %s/%s", c.namespace, image)
	}
	c.logger.Debug().Str("image", image).Int("tags", len(tags)).Msg("Fetched image tags")
	return tags, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query docker hub: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read docker hub response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("docker hub returned %s: %s", resp.Status, gjson.GetBytes(body, "message").String())
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("docker hub returned invalid json")
	}
	return body, nil
}
