package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/upload"
	"chatsync/pkg/utils"
)

// maxUploadMemory bounds the in-memory part of multipart parsing; larger
// bodies spill to temp files.
const maxUploadMemory = 4 * 1024 * 1024

// formOverhead covers multipart boundaries and non-file fields on top of
// the largest per-class ceiling when capping the request body.
const formOverhead = 1 * 1024 * 1024

// RegisterUpload registers the multipart attachment endpoint. Files land
// in dir under a fresh uuid name and are served back from /uploads/.
func RegisterUpload(r *mux.Router, dir string, limits upload.Limits) {
	h := &uploadHandler{dir: dir, limits: limits}
	r.HandleFunc("/chat/upload", h.handle).Methods(http.MethodPost)
}

type uploadHandler struct {
	dir    string
	limits upload.Limits
}

// maxBody is the largest per-class ceiling plus form overhead.
func (h *uploadHandler) maxBody() int64 {
	max := h.limits.Image
	if h.limits.Document > max {
		max = h.limits.Document
	}
	if h.limits.Archive > max {
		max = h.limits.Archive
	}
	return max + formOverhead
}

func (h *uploadHandler) handle(w http.ResponseWriter, r *http.Request) {
	// Cap the body before parsing so an oversized upload is cut off at the
	// largest ceiling instead of spooling fully to disk first.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody())
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.JSONError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		utils.JSONError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "file part missing")
		return
	}
	defer f.Close()

	cls, err := h.limits.Validate(hdr.Filename, hdr.Size)
	if err != nil {
		utils.JSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	if err := os.MkdirAll(h.dir, 0o750); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "upload dir unavailable")
		return
	}
	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(h.dir, name))
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	n, err := io.Copy(dst, f)
	cerr := dst.Close()
	if err != nil || cerr != nil {
		_ = os.Remove(dst.Name())
		utils.JSONError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	metrics.UploadBytes.Add(float64(n))
	logger.Info("upload_stored", "file", hdr.Filename, "size", n, "class", string(cls), "as", name)

	var res upload.Result
	res.URL = "/uploads/" + name
	if cls == upload.ClassImage {
		// images double as their own thumbnail; a resizer can slot in here
		res.ThumbnailURL = res.URL
	}
	res.Metadata.FileName = hdr.Filename
	res.Metadata.FileSize = n
	res.Metadata.FileType = string(cls)
	_ = utils.JSONWrite(w, http.StatusOK, res)
}
