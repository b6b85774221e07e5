package bitable

import (
	"errors"
	"net/url"
	"strings"

	"github.com/okian/sheetsync/internal/domain/model"
)

// ErrInvalidLink is returned when a link does not point at a base.
var ErrInvalidLink = errors.New("invalid bitable link")

// ParseLink extracts the app token and optional table id from a shared link
// such as https://example.feishu.cn/base/<app>?table=<table>.
func ParseLink(link string) (model.TableRef, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return model.TableRef{}, ErrInvalidLink
	}
	parts := strings.Split(u.Path, "/")
	for i, p := range parts {
		if p != "base" || i+1 >= len(parts) || parts[i+1] == "" {
			continue
		}
		q := u.Query()
		ref := model.TableRef{AppToken: parts[i+1]}
		for _, key := range []string{"table", "sheet", "sheetId"} {
			if v := q.Get(key); v != "" {
				ref.TableID = v
				break
			}
		}
		return ref, nil
	}
	return model.TableRef{}, ErrInvalidLink
}
