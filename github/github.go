package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	apiURL  = "https://api.github.com"
	perPage = 100
)

type Owner struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

type Repository struct {
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Owner         Owner     `json:"owner"`
	Description   string    `json:"description"`
	HTMLURL       string    `json:"html_url"`
	CloneURL      string    `json:"clone_url"`
	SSHURL        string    `json:"ssh_url"`
	DefaultBranch string    `json:"default_branch"`
	Private       bool      `json:"private"`
	Fork          bool      `json:"fork"`
	Archived      bool      `json:"archived"`
	Language      string    `json:"language"`
	Stars         int       `json:"stargazers_count"`
	Forks         int       `json:"forks_count"`
	OpenIssues    int       `json:"open_issues_count"`
	Size          int       `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	PushedAt      time.Time `json:"pushed_at"`
}

type Branch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
	Protected bool `json:"protected"`
}

type Content struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
	HTMLURL  string `json:"html_url"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type OwnerKind int

const (
	Organization OwnerKind = iota
	User
)

type Client interface {
	ListRepositories(ctx context.Context, owner string, kind OwnerKind) ([]Repository, error)
	ListBranches(ctx context.Context, fullName string) ([]Branch, error)
	GetContents(ctx context.Context, fullName, path, ref string) ([]Content, error)
	GetFile(ctx context.Context, fullName, path, ref string) ([]byte, error)
}

var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
)

type client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	cacheSize  int
	contents   *lru.Cache[string, []Content]
}

type Option func(*client)

func WithToken(token string) Option {
	return func(c *client) {
		c.token = token
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit caps the request rate. The default is one request per second
// with a burst of 10, well inside the authenticated quota of 5000 per hour.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithCacheSize sets how many directory listings are kept in memory.
func WithCacheSize(size int) Option {
	return func(c *client) {
		c.cacheSize = size
	}
}

func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   apiURL,
		limiter:   rate.NewLimiter(1, 10),
		cacheSize: 1024,
	}

	for _, opt := range opts {
		opt(c)
	}

	contents, err := lru.New[string, []Content](max(c.cacheSize, 1))
	if err != nil {
		panic(fmt.Sprintf("failed to create contents cache: %v", err))
	}
	c.contents = contents

	return c
}

func (c *client) get(ctx context.Context, path string, query url.Values, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		switch {
		case response.StatusCode == http.StatusNotFound:
			return ErrNotFound

		case response.StatusCode == http.StatusTooManyRequests,
			response.StatusCode == http.StatusForbidden && response.Header.Get("X-RateLimit-Remaining") == "0":
			return fmt.Errorf("%w: quota resets at %s", ErrRateLimited, rateLimitReset(response.Header))
		}

		return fmt.Errorf("unexpected status code: %d", response.StatusCode)
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func rateLimitReset(header http.Header) string {
	seconds, err := strconv.ParseInt(header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return "unknown"
	}

	return time.Unix(seconds, 0).UTC().Format(time.RFC3339)
}

// paginate fetches pages until one is shorter than perPage.
func paginate[T any](ctx context.Context, c *client, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(perPage))

	var items []T
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))

		var pageItems []T
		if err := c.get(ctx, path, query, &pageItems); err != nil {
			return nil, err
		}

		items = append(items, pageItems...)

		if len(pageItems) < perPage {
			return items, nil
		}
	}
}

func (c *client) ListRepositories(ctx context.Context, owner string, kind OwnerKind) ([]Repository, error) {
	path := "/orgs/" + url.PathEscape(owner) + "/repos"
	if kind == User {
		path = "/users/" + url.PathEscape(owner) + "/repos"
	}

	return paginate[Repository](ctx, c, path, url.Values{"sort": {"updated"}})
}

func (c *client) ListBranches(ctx context.Context, fullName string) ([]Branch, error) {
	return paginate[Branch](ctx, c, "/repos/"+fullName+"/branches", nil)
}

func contentsPath(fullName, path string) string {
	return "/repos/" + fullName + "/contents/" + strings.TrimPrefix(path, "/")
}

func refQuery(ref string) url.Values {
	if ref == "" {
		return nil
	}

	return url.Values{"ref": {ref}}
}

func (c *client) GetContents(ctx context.Context, fullName, path, ref string) ([]Content, error) {
	key := fullName + "@" + ref + ":" + path
	if contents, ok := c.contents.Get(key); ok {
		return contents, nil
	}

	var contents []Content
	if err := c.get(ctx, contentsPath(fullName, path), refQuery(ref), &contents); err != nil {
		return nil, err
	}

	_ = c.contents.Add(key, contents)

	return contents, nil
}

func (c *client) GetFile(ctx context.Context, fullName, path, ref string) ([]byte, error) {
	var content Content
	if err := c.get(ctx, contentsPath(fullName, path), refQuery(ref), &content); err != nil {
		return nil, err
	}

	if content.Type != "file" {
		return nil, fmt.Errorf("%s is a %s, not a file", path, content.Type)
	}

	if content.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding: %q", content.Encoding)
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}

	return data, nil
}
