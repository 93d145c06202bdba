package web

import (
	"html/template"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/Masterminds/sprig/v3"
	"github.com/gin-gonic/gin"
	webassets "github.com/tyemirov/crmquickstart/web"
)

const (
	templatePattern = "templates/*.tmpl"
	staticDirectory = "static"
)

// LoadTemplates parses the embedded views with sprig helpers available.
func LoadTemplates(filesystem fs.FS) (*template.Template, error) {
	return template.New("views").Funcs(sprig.FuncMap()).ParseFS(filesystem, templatePattern)
}

// ConfigureRenderer installs the embedded views on the engine.
func ConfigureRenderer(engine *gin.Engine) error {
	templates, err := LoadTemplates(webassets.FS)
	if err != nil {
		return err
	}
	engine.SetHTMLTemplate(templates)
	return nil
}

// ServeEmbeddedAsset writes a single embedded static file with cache headers.
func ServeEmbeddedAsset(contextGin *gin.Context, filesystem fs.FS, name string) {
	if name == "" || strings.Contains(name, "..") || strings.Contains(name, "/") {
		contextGin.AbortWithStatus(http.StatusNotFound)
		return
	}
	data, readErr := fs.ReadFile(filesystem, path.Join(staticDirectory, name))
	if readErr != nil {
		contextGin.AbortWithStatus(http.StatusNotFound)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	contextGin.Header("Cache-Control", "public, max-age=3600")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.Data(http.StatusOK, contentType, data)
}
