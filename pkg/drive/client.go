// Package drive 提供了一个只读的 Google Drive v3 REST 客户端。
// 同步对账只依赖它的输出形状：文件快照 (id, name, modifiedTime) 加逐文件下载。
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"doc-chat-go/internal/config"
)

const defaultBaseURL = "https://www.googleapis.com/drive/v3"

// RemoteFile 表示远端文件夹快照中的一个文件。
type RemoteFile struct {
	ID           string
	Name         string
	MimeType     string
	ModifiedTime time.Time
}

// Client 是同步对账器面向 Drive 的边界接口。
type Client interface {
	// ListFiles 返回文件夹内当前存在的全部文件（不含回收站）。
	ListFiles(ctx context.Context) ([]RemoteFile, error)
	// Download 获取一个文件的原始字节；Google 文档类文件导出为 PDF。
	Download(ctx context.Context, file RemoteFile) ([]byte, error)
}

type httpClient struct {
	cfg     config.DriveConfig
	baseURL string
	client  *http.Client
}

// NewClient 创建一个基于 HTTP 的 Drive 客户端。
func NewClient(cfg config.DriveConfig) Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &httpClient{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type fileListResponse struct {
	Files []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		MimeType     string `json:"mimeType"`
		ModifiedTime string `json:"modifiedTime"`
	} `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// ListFiles 列出配置文件夹下的全部文件，自动翻页。
func (c *httpClient) ListFiles(ctx context.Context) ([]RemoteFile, error) {
	var files []RemoteFile
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", c.cfg.FolderID))
		q.Set("fields", "nextPageToken, files(id, name, mimeType, modifiedTime)")
		q.Set("pageSize", "1000")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		body, err := c.get(ctx, c.baseURL+"/files?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("列取 Drive 文件夹失败: %w", err)
		}

		var resp fileListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("解析 Drive 文件列表失败: %w", err)
		}
		for _, f := range resp.Files {
			modified, err := time.Parse(time.RFC3339, f.ModifiedTime)
			if err != nil {
				return nil, fmt.Errorf("解析文件 %s 的 modifiedTime 失败: %w", f.ID, err)
			}
			files = append(files, RemoteFile{
				ID:           f.ID,
				Name:         f.Name,
				MimeType:     f.MimeType,
				ModifiedTime: modified,
			})
		}
		if resp.NextPageToken == "" {
			return files, nil
		}
		pageToken = resp.NextPageToken
	}
}

// Download 下载文件内容。Google 原生文档（docs/sheets/slides）没有
// 字节内容，改走 export 接口导出为 PDF。
func (c *httpClient) Download(ctx context.Context, file RemoteFile) ([]byte, error) {
	var endpoint string
	if strings.Contains(file.MimeType, "google-apps") {
		endpoint = fmt.Sprintf("%s/files/%s/export?mimeType=%s",
			c.baseURL, url.PathEscape(file.ID), url.QueryEscape("application/pdf"))
	} else {
		endpoint = fmt.Sprintf("%s/files/%s?alt=media", c.baseURL, url.PathEscape(file.ID))
	}

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("下载 Drive 文件 %s 失败: %w", file.ID, err)
	}
	return body, nil
}

func (c *httpClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("drive api 返回 %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}
