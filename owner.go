package ensagent

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type ForwardResolver interface {
	// ResolveForward returns ens.ErrNotFound when nothing is bound to name.
	ResolveForward(ctx context.Context, name string) (common.Address, error)
}

type OwnerResolver struct {
	resolver ForwardResolver
}

func NewOwnerResolver(resolver ForwardResolver) *OwnerResolver {
	return &OwnerResolver{resolver: resolver}
}

// ResolveOwner turns an address literal or any resolvable ENS name into an address.
// Literals never touch the network.
func (o *OwnerResolver) ResolveOwner(ctx context.Context, specifier string) (common.Address, error) {
	spec := strings.TrimSpace(specifier)
	if spec == "" || isAddressLiteral(spec) {
		return parseOwnerAddress(spec)
	}

	failed := newError(ErrOwnerResolutionFailed, "Could not resolve: "+specifier, nil)
	name, err := normalize(spec)
	if err != nil {
		failed.Err = err
		return common.Address{}, failed
	}
	addr, err := o.resolver.ResolveForward(ctx, name)
	if err != nil {
		failed.Err = err
		return common.Address{}, failed
	}
	return addr, nil
}

func isAddressLiteral(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// parseOwnerAddress accepts 0x-prefixed 20-byte hex. Mixed case must carry a valid EIP-55 checksum.
func parseOwnerAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, newError(ErrInvalidOwnerAddress, "owner is empty", nil)
	}
	if !common.IsHexAddress(s) || !isAddressLiteral(s) {
		return common.Address{}, newError(ErrInvalidOwnerAddress, "malformed owner address: "+s, nil)
	}
	addr := common.HexToAddress(s)
	digits := s[2:]
	mixedCase := digits != strings.ToLower(digits) && digits != strings.ToUpper(digits)
	if mixedCase && addr.Hex()[2:] != digits {
		return common.Address{}, newError(ErrInvalidOwnerAddress, "owner address checksum mismatch: "+s, nil)
	}
	if addr == (common.Address{}) {
		return common.Address{}, newError(ErrInvalidOwnerAddress, "owner is the zero address", nil)
	}
	return addr, nil
}
