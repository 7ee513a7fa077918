package server

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"

	"github.com/jo-hoe/productscribe/internal/common"
	"github.com/jo-hoe/productscribe/internal/form"
)

var (
	//go:embed tmpl/*.html
	tmplFS embed.FS

	indexTmpl = template.Must(template.ParseFS(tmplFS, "tmpl/index.html"))
)

// session returns the caller's controller, starting a session when the cookie is missing or stale.
func (svc *Service) session(w http.ResponseWriter, r *http.Request) *form.Controller {
	if c, err := r.Cookie(common.SessionCookie); err == nil {
		if ctrl, ok := svc.Sessions.Get(c.Value); ok {
			return ctrl
		}
	}
	id, ctrl := svc.Sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	svc.Log.Debug("session started", "sessions", svc.Sessions.Len())
	return ctrl
}

func (svc *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	view := svc.session(w, r).View()
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, view); err != nil {
		svc.Log.Error("render index", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", common.ContentTypeHTML)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (svc *Service) handleFormImage(w http.ResponseWriter, r *http.Request) {
	ctrl := svc.session(w, r)
	defer backToForm(w, r)

	if err := r.ParseMultipartForm(safeInt64(svc.Cfg.Server.MaxUploadSize)); err != nil {
		svc.Log.Warn("image form", "err", err)
		ctrl.SetNotice("The image could not be read. Please choose another file.")
		return
	}
	files := r.MultipartForm.File[common.FormFieldFile]
	if len(files) == 0 {
		return
	}
	f, err := files[0].Open()
	if err != nil {
		svc.Log.Warn("open image part", "err", err)
		ctrl.SetNotice("The image could not be read. Please choose another file.")
		return
	}
	defer func() { _ = f.Close() }()
	// The controller keeps its notice on failure.
	_ = ctrl.HandleImage(r.Context(), files[0].Filename, f)
}

func (svc *Service) handleFormRemove(w http.ResponseWriter, r *http.Request) {
	svc.session(w, r).RemoveImage()
	backToForm(w, r)
}

func (svc *Service) handleFormToggle(w http.ResponseWriter, r *http.Request) {
	svc.session(w, r).ToggleLanguage(r.PathValue("code"))
	backToForm(w, r)
}

func (svc *Service) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	// The redirected page renders the in-flight state and refreshes until the result lands.
	err := svc.session(w, r).Start(r.Context(), nil)
	if errors.Is(err, form.ErrNotReady) || errors.Is(err, form.ErrInFlight) {
		svc.Log.Debug("submit ignored", "reason", err)
	}
	backToForm(w, r)
}

func backToForm(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, common.PathRoot, http.StatusSeeOther)
}
