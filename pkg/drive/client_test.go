package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"doc-chat-go/internal/config"
)

func TestListFilesPagination(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		q := r.URL.Query()
		if !strings.Contains(q.Get("q"), "'folder-1' in parents") {
			t.Errorf("查询条件缺少文件夹过滤: %s", q.Get("q"))
		}
		if !strings.Contains(q.Get("q"), "trashed = false") {
			t.Errorf("查询条件缺少回收站过滤: %s", q.Get("q"))
		}

		var resp map[string]interface{}
		if q.Get("pageToken") == "" {
			resp = map[string]interface{}{
				"files": []map[string]string{
					{"id": "f1", "name": "a.pdf", "mimeType": "application/pdf", "modifiedTime": "2026-01-01T10:00:00Z"},
				},
				"nextPageToken": "page-2",
			}
		} else {
			resp = map[string]interface{}{
				"files": []map[string]string{
					{"id": "f2", "name": "b.docx", "mimeType": "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "modifiedTime": "2026-01-02T10:00:00Z"},
				},
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(config.DriveConfig{FolderID: "folder-1", AccessToken: "tok-123", BaseURL: srv.URL})
	files, err := client.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles() error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ListFiles() 返回 %d 个文件, want 2（含翻页）", len(files))
	}
	if files[0].ID != "f1" || files[1].ID != "f2" {
		t.Errorf("文件顺序不正确: %s, %s", files[0].ID, files[1].ID)
	}
	if files[0].ModifiedTime.IsZero() {
		t.Error("modifiedTime 未被解析")
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", gotAuth)
	}
}

func TestDownloadRegularFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/f1" || r.URL.Query().Get("alt") != "media" {
			t.Errorf("普通文件应走 alt=media 下载, got %s", r.URL.String())
		}
		_, _ = w.Write([]byte("pdf-bytes"))
	}))
	defer srv.Close()

	client := NewClient(config.DriveConfig{AccessToken: "tok", BaseURL: srv.URL})
	data, err := client.Download(context.Background(), RemoteFile{ID: "f1", MimeType: "application/pdf"})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if string(data) != "pdf-bytes" {
		t.Errorf("内容 = %q", data)
	}
}

func TestDownloadGoogleDocExportsAsPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/export") {
			t.Errorf("google-apps 文档应走 export 接口, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("mimeType") != "application/pdf" {
			t.Errorf("导出格式 = %s, want application/pdf", r.URL.Query().Get("mimeType"))
		}
		_, _ = w.Write([]byte("exported"))
	}))
	defer srv.Close()

	client := NewClient(config.DriveConfig{AccessToken: "tok", BaseURL: srv.URL})
	data, err := client.Download(context.Background(), RemoteFile{ID: "doc1", MimeType: "application/vnd.google-apps.document"})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if string(data) != "exported" {
		t.Errorf("内容 = %q", data)
	}
}

func TestListFilesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(config.DriveConfig{BaseURL: srv.URL})
	if _, err := client.ListFiles(context.Background()); err == nil {
		t.Error("非 200 响应应返回错误")
	}
}
