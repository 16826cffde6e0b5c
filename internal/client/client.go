package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ErrSaveInProgress 表示已有一次保存尚未完成，重复触发被拒绝。
var ErrSaveInProgress = errors.New("a save is already in progress")

// Client 是模板服务的 REST 客户端。
// 登录后携带会话令牌；保存操作互斥，结果（成功或失败）返回前
// 不接受重复提交。
type Client struct {
	baseURL    string
	httpClient *http.Client

	token  atomic.Value // string
	saving atomic.Bool
}

// New 构造指向指定服务地址的客户端。
func New(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	c.token.Store("")
	return c
}

// User 是登录响应中的公开用户字段。
type User struct {
	ID               uint   `json:"id"`
	OrganizationName string `json:"organizationName"`
	Email            string `json:"email"`
	Website          string `json:"website,omitempty"`
}

// Template 镜像服务端的模板响应。
type Template struct {
	ID            uint            `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	ImageURL      string          `json:"imageUrl,omitempty"`
	ThumbnailURL  string          `json:"thumbnailUrl,omitempty"`
	Customization json.RawMessage `json:"customization"`
	IsPublic      bool            `json:"isPublic"`
	Downloads     uint            `json:"downloads"`
	Tags          []string        `json:"tags"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// RecentDownload 是最近下载列表中的一条记录。
type RecentDownload struct {
	ID           uint      `json:"id"`
	TemplateID   uint      `json:"templateId"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// RegisterRequest 是注册请求体。
type RegisterRequest struct {
	OrganizationName string `json:"organizationName"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	Website          string `json:"website,omitempty"`
	Description      string `json:"description,omitempty"`
}

// APIError 携带服务端返回的状态码与可读消息。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Register 创建账号。成功不建立会话。
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.postJSON(ctx, "/api/register", req, nil)
}

// Login 登录并在客户端保存会话令牌。
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.postJSON(ctx, "/api/login", body, &resp); err != nil {
		return nil, err
	}
	c.token.Store(resp.Token)
	return &resp.User, nil
}

// Token 返回当前会话令牌，未登录为空串。
func (c *Client) Token() string {
	token, _ := c.token.Load().(string)
	return token
}

// Template 获取单个模板。
func (c *Client) Template(ctx context.Context, id uint) (*Template, error) {
	var out Template
	if err := c.getJSON(ctx, "/api/templates/"+strconv.FormatUint(uint64(id), 10), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListQuery 是模板列表的过滤参数。
type ListQuery struct {
	Category string
	Search   string
	Sort     string // newest | popular
}

// Templates 列出调用者的模板。
func (c *Client) Templates(ctx context.Context, query ListQuery) ([]Template, error) {
	path := "/api/templates"
	params := make([]string, 0, 3)
	if query.Category != "" {
		params = append(params, "category="+query.Category)
	}
	if query.Search != "" {
		params = append(params, "search="+query.Search)
	}
	if query.Sort != "" {
		params = append(params, "sort="+query.Sort)
	}
	if len(params) > 0 {
		path += "?" + strings.Join(params, "&")
	}

	var out []Template
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveRequest 描述一次模板保存：序列化的画布数据与渲染出的缩略图
// 一起提交，服务端在存储可复用数据的同时保存预览图。
type SaveRequest struct {
	TemplateID    uint // 0 表示新建
	Name          string
	Category      string
	IsPublic      bool
	Tags          []string
	Customization []byte
	Thumbnail     []byte // PNG，可为空
}

// SaveTemplate 创建或更新模板。
// 同一客户端上已有保存在途时返回 ErrSaveInProgress；
// 失败不影响调用方的内存文档，直接重试即可。
func (c *Client) SaveTemplate(ctx context.Context, req SaveRequest) (*Template, error) {
	if !c.saving.CompareAndSwap(false, true) {
		return nil, ErrSaveInProgress
	}
	defer c.saving.Store(false)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"name":          req.Name,
		"category":      req.Category,
		"customization": string(req.Customization),
		"isPublic":      strconv.FormatBool(req.IsPublic),
	}
	if req.Tags != nil {
		tags, err := json.Marshal(req.Tags)
		if err != nil {
			return nil, fmt.Errorf("encode tags: %w", err)
		}
		fields["tags"] = string(tags)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if len(req.Thumbnail) > 0 {
		part, err := createImagePart(writer, "template.png")
		if err != nil {
			return nil, fmt.Errorf("create image part: %w", err)
		}
		if _, err := part.Write(req.Thumbnail); err != nil {
			return nil, fmt.Errorf("write image part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	method := http.MethodPost
	path := "/api/templates"
	if req.TemplateID != 0 {
		method = http.MethodPut
		path += "/" + strconv.FormatUint(uint64(req.TemplateID), 10)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var out Template
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordDownload 上报一次模板下载。
func (c *Client) RecordDownload(ctx context.Context, id uint) error {
	path := "/api/templates/" + strconv.FormatUint(uint64(id), 10) + "/download"
	return c.postJSON(ctx, path, struct{}{}, nil)
}

// RecentDownloads 返回调用者最近的下载记录。
func (c *Client) RecentDownloads(ctx context.Context) ([]RecentDownload, error) {
	var out []RecentDownload
	if err := c.getJSON(ctx, "/api/downloads/recent", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTemplate 删除调用者的模板。
func (c *Client) DeleteTemplate(ctx context.Context, id uint) error {
	path := "/api/templates/" + strconv.FormatUint(uint64(id), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, nil)
}

func createImagePart(writer *multipart.Writer, filename string) (io.Writer, error) {
	return writer.CreateFormFile("image", filename)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		var body struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil && body.Message != "" {
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
