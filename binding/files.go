package binding

import (
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/RottenNinja-Go/pipeline/schema"
)

const defaultPartType = "application/octet-stream"

// checkFile applies the content type allow-list and the magic number rule to
// one uploaded file. The signature is checked against the declared type so a
// renamed or relabelled file is caught.
func checkFile(name string, spec schema.FileSpec, f *File) []schema.Violation {
	var out []schema.Violation
	fail := func(rule, msg string) {
		out = append(out, schema.Violation{
			Field: name, Source: schema.SourceFile, Kind: schema.KindFile, Rule: rule, Message: msg, Value: f.Filename,
		})
	}

	declared := baseType(f.ContentType)
	if declared == "" {
		declared = defaultPartType
	}

	if len(spec.ContentType) > 0 && !allowed(spec.ContentType, declared) {
		fail(schema.RuleContentType, fmt.Sprintf("content type %q is not one of: %s", declared, strings.Join(spec.ContentType, ", ")))
	}

	if spec.ValidateMagicNumber {
		if len(f.Content) == 0 {
			fail(schema.RuleMagicNumber, "file is empty")
			return out
		}
		detected := mimetype.Detect(f.Content)
		if !signatureMatches(detected, declared) {
			fail(schema.RuleMagicNumber, fmt.Sprintf("file content is %s, not %s", baseType(detected.String()), declared))
		}
	}
	return out
}

func baseType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// allowed matches a media type against an allow-list that may hold
// wildcards such as "image/*".
func allowed(list []string, mediaType string) bool {
	for _, a := range list {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "*/*" || a == mediaType {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mediaType, prefix+"/") {
			return true
		}
	}
	return false
}

// signatureMatches walks the detected type and its parents, so that for
// example a JSON file satisfies a declared "text/plain".
func signatureMatches(detected *mimetype.MIME, declared string) bool {
	if declared == defaultPartType {
		return true
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return true
		}
		if prefix, ok := strings.CutSuffix(declared, "/*"); ok && strings.HasPrefix(baseType(m.String()), prefix+"/") {
			return true
		}
	}
	return false
}
