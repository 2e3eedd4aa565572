package api

import "fmt"

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the observer API. The
// {name} parameter is restricted to the configured jobs.
func buildOpenAPIDoc(jobNames []string) map[string]any {
	nameParam := map[string]any{
		"name":     "name",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string", "enum": jobNames},
	}
	secured := []any{map[string]any{"BearerAuth": []string{}}}

	op := func(id, summary string, responses map[string]string, params ...any) map[string]any {
		resp := map[string]any{}
		for code, desc := range responses {
			resp[code] = map[string]any{"description": desc}
		}
		o := map[string]any{
			"operationId": id,
			"summary":     summary,
			"tags":        []string{"jobs"},
			"responses":   resp,
			"security":    secured,
		}
		if len(params) > 0 {
			o["parameters"] = params
		}
		return o
	}

	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Liveness and configured job count",
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
		"/jobs": map[string]any{
			"get": op("list_jobs", "Status of every configured job", map[string]string{"200": "Job list"}),
		},
		"/jobs/{name}": map[string]any{
			"get": op("get_job", "Status files and last run of one job",
				map[string]string{"200": "Job status", "404": "Unknown job"}, nameParam),
		},
		"/jobs/{name}/runs": map[string]any{
			"get": op("list_runs", "Recent runs from the history ledger",
				map[string]string{"200": "Run list", "400": "Bad limit", "404": "Unknown job or no ledger"}, nameParam),
		},
		"/jobs/{name}/abort": map[string]any{
			"post": op("abort_job", "Request a graceful abort",
				map[string]string{"202": "Abort requested", "404": "Unknown job", "409": "Job is not running"}, nameParam),
		},
		"/events": map[string]any{
			"get": op("events", "Server-sent job.state events", map[string]string{"200": "Event stream"}),
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":       "Dispatcher observer",
			"version":     "1.0",
			"description": fmt.Sprintf("Observes %d supervised project directories.", len(jobNames)),
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
