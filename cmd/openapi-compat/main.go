// Package main checks that the generated API document stays backward
// compatible with a saved baseline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"chatterbox/docs"

	"gopkg.in/yaml.v3"
)

var supportedMethods = map[string]struct{}{
	"get":    {},
	"put":    {},
	"post":   {},
	"delete": {},
	"patch":  {},
}

type operation struct {
	Responses  map[string]struct{}
	Parameters map[string]bool // name -> required
}

type apiDoc struct {
	Paths map[string]map[string]operation
}

func main() {
	basePath := flag.String("base", "", "baseline swagger file (JSON or YAML)")
	revisionPath := flag.String("revision", "", "revision swagger file (default: the compiled-in document)")
	dump := flag.String("dump", "", "write the compiled-in document to this path and exit")
	flag.Parse()

	if *dump != "" {
		// #nosec G306: API docs are public
		if err := os.WriteFile(*dump, []byte(docs.SwaggerInfo.ReadDoc()), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write document: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *dump)
		return
	}

	if strings.TrimSpace(*basePath) == "" {
		fmt.Fprintln(os.Stderr, "usage: openapi-compat -base <path> [-revision <path>] | -dump <path>")
		os.Exit(2)
	}

	base, err := loadFile(*basePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base document: %v\n", err)
		os.Exit(1)
	}

	var revision apiDoc
	if strings.TrimSpace(*revisionPath) == "" {
		revision, err = parseDoc([]byte(docs.SwaggerInfo.ReadDoc()))
	} else {
		revision, err = loadFile(*revisionPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load revision document: %v\n", err)
		os.Exit(1)
	}

	issues := compare(base, revision)
	if len(issues) > 0 {
		fmt.Fprintln(os.Stderr, "backward compatibility check failed:")
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "- %s\n", issue)
		}
		os.Exit(1)
	}

	fmt.Println("openapi compatibility check passed")
}

func loadFile(path string) (apiDoc, error) {
	// #nosec G304: path comes from CLI flags in a dev tool
	raw, err := os.ReadFile(path)
	if err != nil {
		return apiDoc{}, err
	}
	return parseDoc(raw)
}

// parseDoc reads a swagger document. JSON input parses as YAML.
func parseDoc(raw []byte) (apiDoc, error) {
	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return apiDoc{}, err
	}

	pathsMap, ok := toMap(doc["paths"])
	if !ok {
		return apiDoc{}, errors.New("missing top-level paths object")
	}

	out := apiDoc{Paths: make(map[string]map[string]operation)}
	for pathKey, pathEntry := range pathsMap {
		methods, ok := toMap(pathEntry)
		if !ok {
			continue
		}

		ops := make(map[string]operation)
		for methodKey, methodEntry := range methods {
			method := strings.ToLower(strings.TrimSpace(methodKey))
			if _, supported := supportedMethods[method]; !supported {
				continue
			}
			body, ok := toMap(methodEntry)
			if !ok {
				continue
			}
			ops[method] = operation{
				Responses:  responseCodes(body["responses"]),
				Parameters: parameters(body["parameters"]),
			}
		}

		if len(ops) > 0 {
			out.Paths[pathKey] = ops
		}
	}
	return out, nil
}

func responseCodes(v interface{}) map[string]struct{} {
	codes := make(map[string]struct{})
	m, ok := toMap(v)
	if !ok {
		return codes
	}
	for code := range m {
		if normalized := strings.ToLower(strings.TrimSpace(code)); normalized != "" {
			codes[normalized] = struct{}{}
		}
	}
	return codes
}

func parameters(v interface{}) map[string]bool {
	params := make(map[string]bool)
	list, ok := v.([]interface{})
	if !ok {
		return params
	}
	for _, item := range list {
		p, ok := toMap(item)
		if !ok {
			continue
		}
		name, _ := p["name"].(string)
		if name == "" {
			continue
		}
		required, _ := p["required"].(bool)
		params[name] = required
	}
	return params
}

func toMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// compare lists the changes in revision that break clients of base:
// removed paths, operations or response codes, and parameters that became
// required.
func compare(base, revision apiDoc) []string {
	var issues []string

	for path, baseOps := range base.Paths {
		revOps, ok := revision.Paths[path]
		if !ok {
			issues = append(issues, fmt.Sprintf("removed path: %s", path))
			continue
		}

		for method, baseOp := range baseOps {
			label := strings.ToUpper(method) + " " + path
			revOp, ok := revOps[method]
			if !ok {
				issues = append(issues, "removed operation: "+label)
				continue
			}

			for code := range baseOp.Responses {
				if _, ok := revOp.Responses[code]; !ok {
					issues = append(issues, fmt.Sprintf("removed response code: %s -> %s", label, strings.ToUpper(code)))
				}
			}
			for name, required := range revOp.Parameters {
				wasRequired, existed := baseOp.Parameters[name]
				if required && (!existed || !wasRequired) {
					issues = append(issues, fmt.Sprintf("new required parameter: %s -> %s", label, name))
				}
			}
		}
	}

	sort.Strings(issues)
	return issues
}
