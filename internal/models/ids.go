package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier 标识符格式不合法
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`)

// SpotID 车位的唯一标识（全系统唯一）
type SpotID string

// ParseSpotID 在边界处校验车位 ID，内部只接收校验过的值
func ParseSpotID(raw string) (SpotID, error) {
	raw = strings.TrimSpace(raw)
	if !identifierPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: spot id %q", ErrInvalidIdentifier, raw)
	}
	return SpotID(raw), nil
}

// String 实现 fmt.Stringer
func (id SpotID) String() string {
	return string(id)
}

// ParseOccupantID 校验用户 ID（来自已验证的身份）
func ParseOccupantID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 128 {
		return "", fmt.Errorf("%w: occupant id", ErrInvalidIdentifier)
	}
	if raw == AdminOccupant {
		return "", fmt.Errorf("%w: occupant id is reserved", ErrInvalidIdentifier)
	}
	return raw, nil
}

// ParseScopeID 校验楼栋 / 楼层 ID
func ParseScopeID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !identifierPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: scope id %q", ErrInvalidIdentifier, raw)
	}
	return raw, nil
}
