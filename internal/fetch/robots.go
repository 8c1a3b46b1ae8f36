package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"crawlpool/internal/shared/logger"

	"github.com/temoto/robotstxt"
)

// RobotsAgent 是匹配 robots.txt 规则时使用的 user-agent 名称。
const RobotsAgent = "crawlpool"

// RobotsAllowed 检查 rawURL 的路径是否被站点 robots.txt 允许。
// robots.txt 取不到（网络错误）时视为允许；4xx 允许全部，5xx 禁止全部。
func RobotsAllowed(ctx context.Context, rawURL string) (bool, error) {
	l := logger.WithComponent("Fetch/Robots")

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, fmt.Errorf("invalid url %q", rawURL)
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", chromeUA)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		l.Warn().Err(err).Str("robots_url", robotsURL).Msg("robots.txt unreachable, assuming allowed.")
		return true, nil
	}
	defer resp.Body.Close()

	robots, err := robotstxt.FromResponse(resp)
	if err != nil {
		l.Warn().Err(err).Str("robots_url", robotsURL).Msg("robots.txt unparsable, assuming allowed.")
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return robots.TestAgent(path, RobotsAgent), nil
}
