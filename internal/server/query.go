package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/Sternrassler/pagestore/pkg/pagination"
)

var pagingParams = map[string]bool{
	"page":     true,
	"pageSize": true,
	"pageFrom": true,
	"pageTo":   true,
}

// rangeRequest reads paging parameters from the query. Every other parameter
// is collected into a map argument value; without any the default partition
// is used.
func rangeRequest(r *http.Request) (pagination.RangeRequest, error) {
	query := r.URL.Query()

	var req pagination.RangeRequest
	for name, dst := range map[string]*int{
		"page":     &req.Page,
		"pageSize": &req.PageSize,
		"pageFrom": &req.PageFrom,
		"pageTo":   &req.PageTo,
	} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return pagination.RangeRequest{}, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
		}
		*dst = v
	}

	args := make(map[string]any)
	for name := range query {
		if pagingParams[name] {
			continue
		}
		args[name] = query.Get(name)
	}
	if len(args) > 0 {
		req.Args = args
	}
	return req, nil
}
