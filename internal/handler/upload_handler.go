package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// allowedExtensions 是上传接口接受的文档类型。
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".xls":  true,
	".pptx": true,
}

// UploadHandler 结构体定义了文档上传相关的处理器。
type UploadHandler struct {
	ingestService service.IngestService
	qaService     service.QAService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(ingestService service.IngestService, qaService service.QAService) *UploadHandler {
	return &UploadHandler{
		ingestService: ingestService,
		qaService:     qaService,
	}
}

// Upload 接收一批文档，解析、切块、向量化后整体替换会话索引。
func (h *UploadHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		log.Warnf("[UploadHandler] 解析 multipart 表单失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的上传请求", "data": nil})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "未收到任何文件", "data": nil})
		return
	}
	log.Infof("[UploadHandler] 收到上传请求, 文件数: %d", len(files))

	if name, ok := firstDisallowed(files); ok {
		log.Warnf("[UploadHandler] 拒绝不支持的文件类型: %s", name)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "不支持的文件类型: " + name, "data": nil})
		return
	}

	result, err := h.ingestService.IngestUploads(c.Request.Context(), files)
	if err != nil {
		if errors.Is(err, service.ErrNoValidDocuments) {
			data := gin.H{}
			if result != nil {
				data["failed"] = result.Failed
			}
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "所有文件均解析失败", "data": data})
			return
		}
		log.Errorf("[UploadHandler] 文档入库失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "文档处理失败", "data": nil})
		return
	}

	suggestions := h.qaService.InitialSuggestions(c.Request.Context())
	log.Infof("[UploadHandler] 上传处理完成, 成功 %d 个文件, %d 个分块, 失败 %d 个",
		len(result.Files), result.ChunkCount, len(result.Failed))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"files":       result.Files,
		"chunks":      result.ChunkCount,
		"failed":      result.Failed,
		"suggestions": suggestions,
	}})
}

func firstDisallowed(files []*multipart.FileHeader) (string, bool) {
	for _, fh := range files {
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !allowedExtensions[ext] {
			return fh.Filename, true
		}
	}
	return "", false
}
