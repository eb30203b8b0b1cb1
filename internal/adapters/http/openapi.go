package httpadapter

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
)

//go:embed openapi.yaml
var openAPISpecYAML []byte

var openAPIRouter = mustOpenAPIRouter(openAPISpecYAML)

func mustOpenAPIRouter(data []byte) routers.Router {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		panic("httpadapter: load openapi document: " + err.Error())
	}
	if err := doc.Validate(context.Background()); err != nil {
		panic("httpadapter: invalid openapi document: " + err.Error())
	}
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		panic("httpadapter: build openapi router: " + err.Error())
	}
	return router
}

// openAPIValidationMiddleware rejects requests to documented operations that
// do not match the embedded document. Undocumented paths pass through.
func openAPIValidationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := openAPIRouter.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_input"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
