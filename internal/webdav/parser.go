package webdav

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// davNamespace is the canonical WebDAV namespace URI.
const davNamespace = "DAV:"

// xmlNode is a minimal parsed XML element tree.
type xmlNode struct {
	name     xml.Name
	children []*xmlNode
	text     string
}

// matchStrategy decides whether an element name matches a wanted local name.
// Strategies are tried in order; the first node any strategy matches wins.
type matchStrategy func(name xml.Name, local string) bool

// Resolution order: unprefixed elements, DAV:-qualified elements, then any
// other namespace or undeclared literal prefix (D:, d:, lp1:, ...). The XML
// decoder leaves undeclared prefixes as literal Space values, so the last
// strategy catches semi-compliant servers.
var matchStrategies = []matchStrategy{
	func(name xml.Name, local string) bool {
		return name.Space == "" && strings.EqualFold(name.Local, local)
	},
	func(name xml.Name, local string) bool {
		return name.Space == davNamespace && strings.EqualFold(name.Local, local)
	},
	func(name xml.Name, local string) bool {
		return strings.EqualFold(name.Local, local)
	},
}

// ParseMultiStatus parses a WebDAV multi-status body into file entries.
// selfPath is the href of the listed collection itself; its own entry is
// skipped. Directories are filtered out: only plain files are returned.
func ParseMultiStatus(body []byte, selfPath string) ([]FileEntry, error) {
	return parseMultiStatusAt(body, selfPath, time.Now())
}

// parseMultiStatusAt is the deterministic core: the reference time is
// injected so entries with missing or unparsable dates are testable.
func parseMultiStatusAt(body []byte, selfPath string, now time.Time) ([]FileEntry, error) {
	root, err := decodeTree(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse multi-status body: %w", err)
	}

	files := make([]FileEntry, 0)
	for _, resp := range findChildren(root, "response") {
		entry, ok := parseResponseNode(resp, selfPath, now)
		if !ok {
			continue
		}
		if entry.IsDirectory {
			continue
		}
		files = append(files, entry)
	}

	return files, nil
}

// decodeTree parses the body into an element tree rooted at the document element.
func decodeTree(body []byte) (*xmlNode, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	var stack []*xmlNode
	var root *xmlNode

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			} else if root == nil {
				root = node
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}

// findChild returns the first child matching local, trying each resolution
// strategy in order across all children.
func findChild(n *xmlNode, local string) *xmlNode {
	for _, strategy := range matchStrategies {
		for _, child := range n.children {
			if strategy(child.name, local) {
				return child
			}
		}
	}
	return nil
}

// findChildren returns all children matching local under the first
// resolution strategy that matches anything.
func findChildren(n *xmlNode, local string) []*xmlNode {
	for _, strategy := range matchStrategies {
		var matched []*xmlNode
		for _, child := range n.children {
			if strategy(child.name, local) {
				matched = append(matched, child)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}

// parseResponseNode extracts one file entry from a response element.
func parseResponseNode(resp *xmlNode, selfPath string, now time.Time) (FileEntry, bool) {
	hrefNode := findChild(resp, "href")
	if hrefNode == nil {
		return FileEntry{}, false
	}
	href := strings.TrimSpace(hrefNode.text)
	if href == "" {
		return FileEntry{}, false
	}

	name := decodedLastSegment(href)
	if name == "" {
		return FileEntry{}, false
	}

	// Skip the collection's own entry. Some servers emit absolute
	// hrefs, so compare on the path portion.
	if trimSlashes(hrefPath(href)) == trimSlashes(hrefPath(selfPath)) {
		return FileEntry{}, false
	}

	entry := FileEntry{
		Name:         name,
		Path:         href,
		LastModified: now,
	}

	// Properties live under propstat/prop, but some servers flatten them.
	// Search the propstat subtrees first, then the response node itself.
	propNodes := propContainers(resp)

	if sizeNode := findInAny(propNodes, "getcontentlength"); sizeNode != nil {
		if size, err := strconv.ParseInt(strings.TrimSpace(sizeNode.text), 10, 64); err == nil && size >= 0 {
			entry.SizeBytes = size
		}
	}

	if modNode := findInAny(propNodes, "getlastmodified"); modNode != nil {
		if mod, err := parseHTTPDate(strings.TrimSpace(modNode.text)); err == nil {
			entry.LastModified = mod
		}
	}

	if rtNode := findInAny(propNodes, "resourcetype"); rtNode != nil {
		if findChild(rtNode, "collection") != nil {
			entry.IsDirectory = true
		}
	}

	return entry, true
}

// propContainers collects the nodes under which properties may appear.
func propContainers(resp *xmlNode) []*xmlNode {
	var containers []*xmlNode
	for _, propstat := range findChildren(resp, "propstat") {
		if prop := findChild(propstat, "prop"); prop != nil {
			containers = append(containers, prop)
		} else {
			containers = append(containers, propstat)
		}
	}
	containers = append(containers, resp)
	return containers
}

// findInAny returns the first match for local across the candidate nodes.
func findInAny(nodes []*xmlNode, local string) *xmlNode {
	for _, n := range nodes {
		if found := findChild(n, local); found != nil {
			return found
		}
	}
	return nil
}

// decodedLastSegment returns the URL-decoded trailing path segment of href.
func decodedLastSegment(href string) string {
	trimmed := strings.TrimRight(href, "/")
	idx := strings.LastIndex(trimmed, "/")
	segment := trimmed
	if idx >= 0 {
		segment = trimmed[idx+1:]
	}
	decoded, err := url.PathUnescape(segment)
	if err != nil {
		return segment
	}
	return decoded
}

// hrefPath strips any scheme and host from an href, keeping the path.
func hrefPath(href string) string {
	idx := strings.Index(href, "://")
	if idx < 0 {
		return href
	}
	rest := href[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "/"
	}
	return rest[slash:]
}

// trimSlashes strips leading and trailing slashes for path comparison.
func trimSlashes(p string) string {
	return strings.Trim(p, "/")
}

// parseHTTPDate parses the date formats WebDAV servers emit for
// getlastmodified (RFC 1123 and the older variants http.ParseTime knows).
func parseHTTPDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := http.ParseTime(s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC1123Z, s)
}
