package dispatch

import (
	"strconv"
	"strings"

	"github.com/ernie/warden/internal/domain"
)

// Template is a parsed RCON template: literal text interleaved with typed
// substitutions.
//
// Placeholders:
//
//	{argN}           the N-th argument, verbatim
//	{player}         the invoker's name
//	{guid}           the invoker's guid
//	{playerId:argN}  slot of the online player matched by the N-th argument
//	{argsFrom:N}     arguments N and later joined by spaces
type Template struct {
	Source   string
	segments []segment
}

type segment interface {
	resolve(rc *ResolveContext) (string, error)
}

type literal string

type argRef int

type invokerName struct{}

type invokerGUID struct{}

type playerSlot int

type argsFrom int

// ParseTemplate parses src into a template. Unknown or malformed
// placeholders are rejected so a bad template fails at creation time.
func ParseTemplate(src string) (*Template, error) {
	t := &Template{Source: src}
	rest := src
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.segments = append(t.segments, literal(rest))
			break
		}
		if open > 0 {
			t.segments = append(t.segments, literal(rest[:open]))
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, domain.Errorf(domain.CodeInvalidTemplate, "unclosed placeholder in %q", src)
		}
		seg, err := parsePlaceholder(rest[open+1 : open+end])
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, seg)
		rest = rest[open+end+1:]
	}
	return t, nil
}

func parsePlaceholder(body string) (segment, error) {
	name, param, hasParam := strings.Cut(body, ":")
	switch {
	case body == "player":
		return invokerName{}, nil
	case body == "guid":
		return invokerGUID{}, nil
	case hasParam && name == "playerId":
		n, ok := argIndex(param)
		if !ok {
			break
		}
		return playerSlot(n), nil
	case hasParam && name == "argsFrom":
		n, err := strconv.Atoi(param)
		if err != nil || n < 0 {
			break
		}
		return argsFrom(n), nil
	case !hasParam:
		if n, ok := argIndex(body); ok {
			return argRef(n), nil
		}
	}
	return nil, domain.Errorf(domain.CodeInvalidTemplate, "unknown placeholder {%s}", body)
}

// argIndex parses "argN"
func argIndex(s string) (int, bool) {
	if !strings.HasPrefix(s, "arg") {
		return 0, false
	}
	n, err := strconv.Atoi(s[3:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Resolve renders the template against the invocation context. Resolving
// the same template with the same context always yields the same string.
func (t *Template) Resolve(rc *ResolveContext) (string, error) {
	var b strings.Builder
	for _, seg := range t.segments {
		s, err := seg.resolve(rc)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return strings.TrimSpace(b.String()), nil
}

// MaxArgIndex returns the highest argument index referenced, or -1
func (t *Template) MaxArgIndex() int {
	max := -1
	for _, seg := range t.segments {
		var n int
		switch s := seg.(type) {
		case argRef:
			n = int(s)
		case playerSlot:
			n = int(s)
		case argsFrom:
			n = int(s)
		default:
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

func (l literal) resolve(*ResolveContext) (string, error) {
	return string(l), nil
}

// unsafeArgChars would let a substituted value end the command and start
// another one
const unsafeArgChars = ";\"\n\r\x00"

// checkArg rejects values that could break out of the templated command
func checkArg(s string) error {
	if i := strings.IndexAny(s, unsafeArgChars); i >= 0 {
		return domain.Errorf(domain.CodeInvalidInput, "argument contains forbidden character %q", s[i])
	}
	return nil
}

func (a argRef) resolve(rc *ResolveContext) (string, error) {
	if int(a) >= len(rc.Args) {
		return "", domain.Errorf(domain.CodeUnresolvedPlaceholder, "missing argument %d", int(a)+1)
	}
	if err := checkArg(rc.Args[a]); err != nil {
		return "", err
	}
	return rc.Args[a], nil
}

func (invokerName) resolve(rc *ResolveContext) (string, error) {
	if rc.Actor.Name == "" {
		return "", domain.Errorf(domain.CodeUnresolvedPlaceholder, "invoker has no name")
	}
	if err := checkArg(rc.Actor.Name); err != nil {
		return "", err
	}
	return rc.Actor.Name, nil
}

func (invokerGUID) resolve(rc *ResolveContext) (string, error) {
	if rc.Actor.GUID == "" {
		return "", domain.Errorf(domain.CodeUnresolvedPlaceholder, "invoker has no in-game guid")
	}
	return rc.Actor.GUID, nil
}

func (p playerSlot) resolve(rc *ResolveContext) (string, error) {
	if int(p) >= len(rc.Args) {
		return "", domain.Errorf(domain.CodeUnresolvedPlaceholder, "missing argument %d", int(p)+1)
	}
	player, err := rc.Matcher.Match(rc.Players, rc.Args[p])
	if err != nil {
		return "", err
	}
	return strconv.Itoa(player.Slot), nil
}

func (a argsFrom) resolve(rc *ResolveContext) (string, error) {
	if int(a) >= len(rc.Args) {
		return "", nil
	}
	for _, arg := range rc.Args[a:] {
		if err := checkArg(arg); err != nil {
			return "", err
		}
	}
	return strings.Join(rc.Args[a:], " "), nil
}
