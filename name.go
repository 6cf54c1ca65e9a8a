package ensagent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/everFinance/ensagent/schema"
	"golang.org/x/net/idna"
)

// MinLabelLength is the controller's valid() rule; shorter labels can never be registered.
const MinLabelLength = 3

// UTS-46 lookup mapping, the same profile ENS clients use before hashing names.
var nameProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.Transitional(false),
)

// NormalizeName returns the canonical registrable form of raw. The .eth suffix is
// required, never appended: a missing suffix is more likely a typo than a request
// for the .eth name.
func NormalizeName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", newError(ErrInvalidNameFormat, "name is empty", nil)
	}
	name, err := normalize(trimmed)
	if err != nil {
		return "", newError(ErrInvalidNameFormat, fmt.Sprintf("invalid name %q", raw), err)
	}
	if !strings.HasSuffix(name, schema.EthSuffix) {
		return "", newError(ErrInvalidNameFormat, fmt.Sprintf("name must end with %s: %q", schema.EthSuffix, raw), nil)
	}
	label := Label(name)
	if strings.TrimSpace(label) == "" {
		return "", newError(ErrInvalidNameFormat, fmt.Sprintf("name is empty before %s", schema.EthSuffix), nil)
	}
	if strings.Contains(label, ".") {
		return "", newError(ErrInvalidNameFormat, fmt.Sprintf("only second-level %s names can be registered: %q", schema.EthSuffix, raw), nil)
	}
	if utf8.RuneCountInString(label) < MinLabelLength {
		return "", newError(ErrInvalidNameFormat, fmt.Sprintf("name must be at least %d characters before %s", MinLabelLength, schema.EthSuffix), nil)
	}
	return name, nil
}

// Label strips the .eth suffix from a canonical name.
func Label(canonical string) string {
	return strings.TrimSuffix(canonical, schema.EthSuffix)
}

func normalize(name string) (string, error) {
	return nameProfile.ToUnicode(name)
}
