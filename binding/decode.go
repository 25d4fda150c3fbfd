package binding

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/RottenNinja-Go/pipeline/schema"
)

// bodyJSON keeps numbers as json.Number so integers survive decoding
// without a float64 round trip.
var bodyJSON = jsoniter.Config{UseNumber: true}.Froze()

// File is one uploaded multipart file part.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
	Header      textproto.MIMEHeader
}

// Reader returns a reader over the file content.
func (f *File) Reader() io.Reader {
	return bytes.NewReader(f.Content)
}

type bodyKind int

const (
	bodyJSONKind bodyKind = iota
	bodyFormKind
	bodyMultipartKind
)

// decoded is the intermediate body representation prior to validation.
type decoded struct {
	kind  bodyKind
	value any
	files map[string][]*File
}

// decodeBody dispatches on the declared content type. A missing content type
// is treated as JSON.
func decodeBody(rc *RequestContext, limits Limits, fileSpecs map[string]schema.FileSpec) (*decoded, error) {
	mediaType, params := "application/json", map[string]string{}
	if rc.ContentType != "" {
		var err error
		mediaType, params, err = mime.ParseMediaType(rc.ContentType)
		if err != nil {
			return nil, unsupported("invalid content type " + strconv.Quote(rc.ContentType))
		}
	}
	if cs, ok := params["charset"]; ok && !strings.EqualFold(cs, "utf-8") && !strings.EqualFold(cs, "us-ascii") {
		return nil, unsupported("unsupported charset " + strconv.Quote(cs))
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		v, err := DecodeJSON(rc.Body, limits.MaxNestingDepth)
		if err != nil {
			return nil, err
		}
		return &decoded{kind: bodyJSONKind, value: v}, nil
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(rc.Body))
		if err != nil {
			return nil, malformed("malformed form body", err)
		}
		v, err := expandForm(values, limits.MaxNestingDepth)
		if err != nil {
			return nil, err
		}
		return &decoded{kind: bodyFormKind, value: v}, nil
	case mediaType == "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, malformed("multipart body without boundary", nil)
		}
		return decodeMultipart(rc.Body, boundary, limits, fileSpecs)
	}
	return nil, unsupported("unsupported media type " + strconv.Quote(mediaType))
}

// DecodeJSON decodes a JSON document with exact numbers, rejecting nesting
// deeper than maxDepth. Failures are *DecodeError with status 400.
func DecodeJSON(data []byte, maxDepth int) (any, error) {
	if err := checkDepth(data, maxDepth); err != nil {
		return nil, err
	}
	var v any
	if err := bodyJSON.Unmarshal(data, &v); err != nil {
		return nil, malformed("malformed JSON body", err)
	}
	return schema.Normalize(v), nil
}

// checkDepth scans raw JSON for object and array nesting beyond max without
// building the value. A non-positive max disables the check.
func checkDepth(data []byte, max int) error {
	if max <= 0 {
		return nil
	}
	depth := 0
	inString, escaped := false, false
	for _, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > max {
				return malformed("body exceeds maximum nesting depth of "+strconv.Itoa(max), nil)
			}
		case '}', ']':
			depth--
		}
	}
	return nil
}

// splitFormKey splits "user.name", "user[name]" and "tags[]" style keys into
// path segments. An empty segment means "append".
func splitFormKey(key string) []string {
	var parts []string
	var cur strings.Builder
	flush := func() {
		parts = append(parts, cur.String())
		cur.Reset()
	}
	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '.':
			flush()
		case '[':
			if cur.Len() > 0 || len(parts) == 0 {
				flush()
			}
			end := strings.IndexByte(key[i:], ']')
			if end < 0 {
				cur.WriteString(key[i:])
				i = len(key)
				continue
			}
			parts = append(parts, key[i+1:i+end])
			i += end
			if i+1 < len(key) && key[i+1] == '.' {
				i++
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 || len(parts) == 0 {
		flush()
	}
	return parts
}

// expandForm builds a nested value from flat form keys. Repeated keys become
// arrays, and objects whose keys are exactly 0..n-1 become arrays.
func expandForm(values url.Values, maxDepth int) (map[string]any, error) {
	root := map[string]any{}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		parts := splitFormKey(key)
		if maxDepth > 0 && len(parts) > maxDepth {
			return nil, malformed("form key "+strconv.Quote(key)+" exceeds maximum nesting depth of "+strconv.Itoa(maxDepth), nil)
		}
		appendMode := len(parts) > 1 && parts[len(parts)-1] == ""
		if appendMode {
			parts = parts[:len(parts)-1]
		}

		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p]
			if !ok {
				m := map[string]any{}
				node[p] = m
				node = m
				continue
			}
			m, ok := child.(map[string]any)
			if !ok {
				return nil, malformed("conflicting form keys at "+strconv.Quote(key), nil)
			}
			node = m
		}

		leaf := parts[len(parts)-1]
		if existing, ok := node[leaf]; ok {
			if _, isMap := existing.(map[string]any); isMap {
				return nil, malformed("conflicting form keys at "+strconv.Quote(key), nil)
			}
		}
		vals := values[key]
		if appendMode || len(vals) > 1 {
			list := make([]any, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			node[leaf] = list
		} else {
			node[leaf] = vals[0]
		}
	}
	for k, child := range root {
		root[k] = indexedToArrays(child)
	}
	return root, nil
}

func indexedToArrays(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = indexedToArrays(child)
	}
	if len(m) == 0 {
		return m
	}
	list := make([]any, len(m))
	for k, child := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) || strconv.Itoa(i) != k {
			return m
		}
		list[i] = child
	}
	return list
}

// decodeMultipart reads form values and file parts. Files are only kept for
// declared file fields; a file above its declared MaxSize or form values
// beyond MaxMultipartMemory abort with a TooLargeError.
func decodeMultipart(body []byte, boundary string, limits Limits, fileSpecs map[string]schema.FileSpec) (*decoded, error) {
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	values := url.Values{}
	files := map[string][]*File{}
	var formBytes int64

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed("malformed multipart body", err)
		}
		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}

		if part.FileName() == "" {
			data, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return nil, malformed("malformed multipart body", err)
			}
			formBytes += int64(len(data))
			if limits.MaxMultipartMemory > 0 && formBytes > limits.MaxMultipartMemory {
				return nil, &TooLargeError{Limit: limits.MaxMultipartMemory}
			}
			values.Add(name, string(data))
			continue
		}

		spec, declared := fileSpecs[name]
		if !declared {
			part.Close()
			continue
		}
		var src io.Reader = part
		if spec.MaxSize > 0 {
			src = io.LimitReader(part, spec.MaxSize+1)
		}
		data, err := io.ReadAll(src)
		part.Close()
		if err != nil {
			return nil, malformed("malformed multipart body", err)
		}
		if spec.MaxSize > 0 && int64(len(data)) > spec.MaxSize {
			return nil, &TooLargeError{Field: name, Limit: spec.MaxSize}
		}
		files[name] = append(files[name], &File{
			Field:       name,
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Size:        int64(len(data)),
			Content:     data,
			Header:      part.Header,
		})
	}

	form, err := expandForm(values, limits.MaxNestingDepth)
	if err != nil {
		return nil, err
	}
	return &decoded{kind: bodyMultipartKind, value: form, files: files}, nil
}
