// Package upload streams attachments to the relay with progress reporting.
// Validation happens before any network call; a rejected file never leaves
// the client and never inserts a message.
package upload

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/transport"
)

// Class buckets an attachment for its size ceiling.
type Class string

const (
	ClassImage    Class = "image"
	ClassDocument Class = "document"
	ClassArchive  Class = "archive"
)

var extClass = map[string]Class{
	".jpg": ClassImage, ".jpeg": ClassImage, ".png": ClassImage,
	".gif": ClassImage, ".webp": ClassImage,
	".pdf": ClassDocument, ".doc": ClassDocument, ".docx": ClassDocument,
	".txt": ClassDocument, ".xls": ClassDocument, ".xlsx": ClassDocument,
	".zip": ClassArchive, ".rar": ClassArchive, ".7z": ClassArchive,
}

// ValidationError is a local rejection: wrong type or size over the
// ceiling. It is surfaced immediately and triggers zero network calls.
type ValidationError struct {
	FileName string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("upload %s rejected: %s", e.FileName, e.Reason)
}

// Limits carries the per-class byte ceilings.
type Limits struct {
	Image    int64
	Document int64
	Archive  int64
}

// LimitsFromConfig resolves the configured ceilings, falling back to the
// fixed defaults for empty values.
func LimitsFromConfig(c config.UploadConfig) (Limits, error) {
	img, err := c.MaxImageBytes()
	if err != nil {
		return Limits{}, err
	}
	doc, err := c.MaxDocumentBytes()
	if err != nil {
		return Limits{}, err
	}
	arc, err := c.MaxArchiveBytes()
	if err != nil {
		return Limits{}, err
	}
	return Limits{Image: img, Document: doc, Archive: arc}, nil
}

// DefaultLimits are the fixed ceilings: images 10MB, documents 25MB,
// archives 10MB.
func DefaultLimits() Limits {
	return Limits{
		Image:    config.DefaultMaxImageBytes,
		Document: config.DefaultMaxDocumentBytes,
		Archive:  config.DefaultMaxArchiveBytes,
	}
}

// Validate classifies the file and checks it against the ceilings.
func (l Limits) Validate(name string, size int64) (Class, error) {
	ext := strings.ToLower(filepath.Ext(name))
	cls, ok := extClass[ext]
	if !ok {
		return "", &ValidationError{FileName: name, Reason: fmt.Sprintf("file type %q not allowed", ext)}
	}
	max := l.Document
	switch cls {
	case ClassImage:
		max = l.Image
	case ClassArchive:
		max = l.Archive
	}
	if size > max {
		return "", &ValidationError{FileName: name, Reason: fmt.Sprintf("%d bytes exceeds %s limit of %d", size, cls, max)}
	}
	return cls, nil
}

// Result is the descriptor the relay returns for a stored attachment.
type Result struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Metadata     struct {
		FileName string `json:"file_name"`
		FileSize int64  `json:"file_size"`
		FileType string `json:"file_type"`
	} `json:"metadata"`
}

// Sender is the hand-off surface: a completed upload becomes an outbound
// message intent with the usual optimistic lifecycle.
type Sender interface {
	SendAttachment(att models.Attachment, typ models.MessageType) string
}

// Uploader streams files through the adapter's request path.
type Uploader struct {
	doer   transport.Doer
	limits Limits
}

func New(doer transport.Doer, limits Limits) *Uploader {
	return &Uploader{doer: doer, limits: limits}
}

// Upload validates then streams the file as multipart form data, reporting
// progress 0-100 through onProgress. Cancelling ctx aborts the transfer.
// On failure nothing is inserted anywhere; the caller resets its UI.
func (u *Uploader) Upload(ctx context.Context, conversationID, name string, size int64, r io.Reader, onProgress func(pct int)) (*Result, Class, error) {
	cls, err := u.limits.Validate(name, size)
	if err != nil {
		return nil, "", err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeForm(mw, conversationID, name, size, r, onProgress)
		mw.Close()
		pw.CloseWithError(err)
	}()

	res, err := u.doer.Do(ctx, "POST", "/chat/upload", mw.FormDataContentType(), pr)
	if err != nil {
		logger.Warn("upload_failed", "file", name, "error", err)
		return nil, "", fmt.Errorf("upload %s: %w", name, err)
	}
	var out Result
	if err := res.Decode(&out); err != nil {
		return nil, "", fmt.Errorf("decode upload response: %w", err)
	}
	if onProgress != nil {
		onProgress(100)
	}
	logger.Info("upload_complete", "file", name, "size", size, "url", out.URL)
	return &out, cls, nil
}

// UploadAndSend runs Upload and hands the descriptor to the sender as an
// image or file message.
func (u *Uploader) UploadAndSend(ctx context.Context, s Sender, conversationID, name string, size int64, r io.Reader, onProgress func(pct int)) (string, error) {
	res, cls, err := u.Upload(ctx, conversationID, name, size, r, onProgress)
	if err != nil {
		return "", err
	}
	att := models.Attachment{
		URL:          res.URL,
		ThumbnailURL: res.ThumbnailURL,
		FileName:     res.Metadata.FileName,
		FileSize:     res.Metadata.FileSize,
	}
	typ := models.TypeFile
	if cls == ClassImage {
		typ = models.TypeImage
	}
	return s.SendAttachment(att, typ), nil
}

func writeForm(mw *multipart.Writer, conversationID, name string, size int64, r io.Reader, onProgress func(pct int)) error {
	if err := mw.WriteField("conversation_id", conversationID); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, &progressReader{r: r, total: size, report: onProgress})
	return err
}

// progressReader reports whole-percent progress as the body is consumed.
type progressReader struct {
	r      io.Reader
	total  int64
	sent   int64
	last   int
	report func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.sent += int64(n)
	if p.report != nil && p.total > 0 {
		pct := int(p.sent * 100 / p.total)
		if pct > 99 {
			pct = 99 // 100 is reported only after the server responds
		}
		if pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
