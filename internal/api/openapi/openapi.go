// Пакет openapi — контракт HTTP API File Service: интерфейс сервера,
// типы параметров и привязка маршрутов к chi-роутеру.
//
// Параметры path/query разбираются oapi-codegen runtime: ошибки формата
// (некорректный UUID, нечисловой limit) отсекаются до вызова обработчика.
package openapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// FileId — идентификатор файла в пути запроса.
type FileId = openapi_types.UUID //nolint:revive // имя соответствует параметру контракта

// ListFilesParams — query-параметры GET /api/v1/files.
type ListFilesParams struct {
	Offset      *int    `form:"offset,omitempty" json:"offset,omitempty"`
	Limit       *int    `form:"limit,omitempty" json:"limit,omitempty"`
	FileName    *string `form:"fileName,omitempty" json:"fileName,omitempty"`
	ContentType *string `form:"contentType,omitempty" json:"contentType,omitempty"`
	Checksum    *string `form:"checksum,omitempty" json:"checksum,omitempty"`
}

// ServerInterface — обработчики всех endpoints File Service.
type ServerInterface interface {
	// (GET /api/v1/files)
	ListFiles(w http.ResponseWriter, r *http.Request, params ListFilesParams)
	// (POST /api/v1/files)
	UploadFile(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/files/{file_id})
	GetFileMetadata(w http.ResponseWriter, r *http.Request, fileId FileId)
	// (PATCH /api/v1/files/{file_id})
	UpdateFileMetadata(w http.ResponseWriter, r *http.Request, fileId FileId)
	// (DELETE /api/v1/files/{file_id})
	DeleteFile(w http.ResponseWriter, r *http.Request, fileId FileId)
	// (GET /api/v1/files/{file_id}/download)
	DownloadFile(w http.ResponseWriter, r *http.Request, fileId FileId)
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError — параметр запроса не разобран.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("некорректный формат параметра %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// ErrorHandlerFunc — обработчик ошибок разбора параметров.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

// ServerInterfaceWrapper разбирает параметры и вызывает ServerInterface.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc ErrorHandlerFunc
}

// ListFiles разбирает query-параметры листинга.
func (siw *ServerInterfaceWrapper) ListFiles(w http.ResponseWriter, r *http.Request) {
	var (
		params ListFilesParams
		query  = r.URL.Query()
	)

	bindings := []struct {
		name string
		dest any
	}{
		{"offset", &params.Offset},
		{"limit", &params.Limit},
		{"fileName", &params.FileName},
		{"contentType", &params.ContentType},
		{"checksum", &params.Checksum},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: b.name, Err: err})
			return
		}
	}

	siw.Handler.ListFiles(w, r, params)
}

// UploadFile передаёт запрос без разбора: тело читается потоком.
func (siw *ServerInterfaceWrapper) UploadFile(w http.ResponseWriter, r *http.Request) {
	siw.Handler.UploadFile(w, r)
}

// GetFileMetadata разбирает file_id.
func (siw *ServerInterfaceWrapper) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	if fileID, ok := siw.bindFileID(w, r); ok {
		siw.Handler.GetFileMetadata(w, r, fileID)
	}
}

// UpdateFileMetadata разбирает file_id.
func (siw *ServerInterfaceWrapper) UpdateFileMetadata(w http.ResponseWriter, r *http.Request) {
	if fileID, ok := siw.bindFileID(w, r); ok {
		siw.Handler.UpdateFileMetadata(w, r, fileID)
	}
}

// DeleteFile разбирает file_id.
func (siw *ServerInterfaceWrapper) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if fileID, ok := siw.bindFileID(w, r); ok {
		siw.Handler.DeleteFile(w, r, fileID)
	}
}

// DownloadFile разбирает file_id.
func (siw *ServerInterfaceWrapper) DownloadFile(w http.ResponseWriter, r *http.Request) {
	if fileID, ok := siw.bindFileID(w, r); ok {
		siw.Handler.DownloadFile(w, r, fileID)
	}
}

func (siw *ServerInterfaceWrapper) HealthLive(w http.ResponseWriter, r *http.Request) {
	siw.Handler.HealthLive(w, r)
}

func (siw *ServerInterfaceWrapper) HealthReady(w http.ResponseWriter, r *http.Request) {
	siw.Handler.HealthReady(w, r)
}

func (siw *ServerInterfaceWrapper) GetMetrics(w http.ResponseWriter, r *http.Request) {
	siw.Handler.GetMetrics(w, r)
}

func (siw *ServerInterfaceWrapper) bindFileID(w http.ResponseWriter, r *http.Request) (FileId, bool) {
	var fileID FileId
	err := runtime.BindStyledParameterWithOptions("simple", "file_id", chi.URLParam(r, "file_id"), &fileID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "file_id", Err: err})
		return fileID, false
	}
	return fileID, true
}

// ChiServerOptions — параметры монтирования маршрутов.
type ChiServerOptions struct {
	BaseRouter       chi.Router
	ErrorHandlerFunc ErrorHandlerFunc
}

// HandlerFromMux монтирует маршруты на существующий роутер.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions монтирует маршруты с указанными параметрами.
// Без ErrorHandlerFunc ошибки разбора отдаются как 400 text/plain.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get("/api/v1/files", wrapper.ListFiles)
		r.Post("/api/v1/files", wrapper.UploadFile)
		r.Get("/api/v1/files/{file_id}", wrapper.GetFileMetadata)
		r.Patch("/api/v1/files/{file_id}", wrapper.UpdateFileMetadata)
		r.Delete("/api/v1/files/{file_id}", wrapper.DeleteFile)
		r.Get("/api/v1/files/{file_id}/download", wrapper.DownloadFile)
		r.Get("/health/live", wrapper.HealthLive)
		r.Get("/health/ready", wrapper.HealthReady)
		r.Get("/metrics", wrapper.GetMetrics)
	})

	return r
}
