package normalize

import (
	"fmt"
	"regexp"
)

const (
	// DefaultContentTypePattern matches static asset content types.
	DefaultContentTypePattern = `^(image/|text/css|application/(javascript|x-javascript)|application/font|font/|image/vnd\.microsoft\.icon)`
	// DefaultURIPattern matches static file extensions, optionally followed by a query string.
	DefaultURIPattern = `\.(jpg|jpeg|png|gif|ico|css|js|woff|woff2|ttf|eot|svg)(\?.*)?$`
)

// StaticFilter excludes static-asset requests from analysis.
type StaticFilter struct {
	contentType *regexp.Regexp
	uri         *regexp.Regexp
}

// NewStaticFilter compiles the two exclusion patterns.
func NewStaticFilter(contentTypePattern, uriPattern string) (*StaticFilter, error) {
	ct, err := regexp.Compile(contentTypePattern)
	if err != nil {
		return nil, fmt.Errorf("compile content type pattern: %w", err)
	}
	uri, err := regexp.Compile(uriPattern)
	if err != nil {
		return nil, fmt.Errorf("compile uri pattern: %w", err)
	}
	return &StaticFilter{contentType: ct, uri: uri}, nil
}

// IsStatic reports whether either the content type or the URI stem marks the
// request as a static asset. Null values are passed as "".
func (f *StaticFilter) IsStatic(contentType, uriStem string) bool {
	return f.contentType.MatchString(contentType) || f.uri.MatchString(uriStem)
}
