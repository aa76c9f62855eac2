package rtmpconn

import (
	"fmt"
	"net/url"
	"strings"
)

// Target is the decomposed form of an rtmp:// URL: dial address, RTMP
// application name, and stream key.
type Target struct {
	Addr      string // host:port
	App       string
	StreamKey string
	TCURL     string
}

// ParseURL splits an rtmp://host[:port]/app[/sub]/streamKey URL into its
// dial target. The stream key is the final path segment; everything between
// host and key is the application name. The default port is 1935.
func ParseURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "rtmp" {
		return Target{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return Target{}, fmt.Errorf("missing host in %q", raw)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":1935"
	}

	path := strings.Trim(u.Path, "/")
	segs := strings.Split(path, "/")
	if len(segs) < 2 || segs[0] == "" || segs[len(segs)-1] == "" {
		return Target{}, fmt.Errorf("url %q needs /app/streamKey", raw)
	}

	app := strings.Join(segs[:len(segs)-1], "/")
	key := segs[len(segs)-1]
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}

	return Target{
		Addr:      host,
		App:       app,
		StreamKey: key,
		TCURL:     fmt.Sprintf("rtmp://%s/%s", host, app),
	}, nil
}
