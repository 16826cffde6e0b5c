package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 允许的模板图片类型及其存储扩展名。
var allowedImageTypes = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/svg+xml": ".svg",
}

type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

// resolveImageContentType 结合声明类型与内容嗅探确定图片类型。
// SVG 是文本格式，http.DetectContentType 会给出 text/xml 或 text/plain，
// 此时回退到声明类型判断。
func resolveImageContentType(declared string, head []byte) (string, error) {
	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	sniffed := http.DetectContentType(head)

	if _, ok := allowedImageTypes[sniffed]; ok {
		return sniffed, nil
	}
	if declared == "image/svg+xml" &&
		(strings.HasPrefix(sniffed, "text/xml") || strings.HasPrefix(sniffed, "text/plain")) {
		return declared, nil
	}
	return "", &uploadError{
		status: http.StatusBadRequest,
		msg:    "Invalid file type. Only JPEG, PNG and SVG files are allowed.",
	}
}

// storeTemplateImage 校验并上传 multipart 表单中的模板图片。
// 未携带图片时返回空 Key 且无错误。
func storeTemplateImage(c *gin.Context, storageClient ObjectStorage, userID uint, maxBytes int64, clamdAddr string) (string, error) {
	file, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", &uploadError{status: http.StatusBadRequest, msg: "invalid image upload"}
	}

	if file.Size > maxBytes {
		return "", &uploadError{status: http.StatusBadRequest, msg: "Image exceeds the maximum allowed size"}
	}

	reader, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(reader, head)
	reader.Close()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}

	contentType, err := resolveImageContentType(file.Header.Get("Content-Type"), head[:n])
	if err != nil {
		return "", err
	}

	if clamdAddr != "" {
		if err := scanUpload(file, clamdAddr); err != nil {
			return "", err
		}
	}

	reader, err = file.Open()
	if err != nil {
		return "", fmt.Errorf("reopen upload: %w", err)
	}
	defer reader.Close()

	objectKey := fmt.Sprintf("template-images/%d/%s%s", userID, uuid.NewString(), allowedImageTypes[contentType])
	if err := storageClient.UploadFile(c.Request.Context(), objectKey, reader, file.Size, contentType); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return objectKey, nil
}

// scanUpload 将上传内容送入 clamd 扫描。
func scanUpload(file *multipart.FileHeader, clamdAddr string) error {
	reader, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload for scan: %w", err)
	}

	clamdClient := clamd.NewClamd(clamdAddr)
	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(reader, abortChan)
	reader.Close()
	if err != nil {
		return fmt.Errorf("scan upload: %w", err)
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return &uploadError{status: http.StatusBadRequest, msg: "malicious file detected"}
		}
	}
	return nil
}
