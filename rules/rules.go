//go:build ruleguard

// Package gorules holds the ruleguard checks run by gocritic on notifyd.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo reports the Add/Done goroutine pattern, wg.Go does both.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("sync.WaitGroup") || m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... })").
		Suggest("$wg.Go(func() { $body })")

	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("sync.WaitGroup") || m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of a manual Done")
}

// StdLogger reports the standard library logger outside main; components log
// through internal/logger so module levels and redaction apply.
func StdLogger(m dsl.Matcher) {
	m.Import("log")
	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `log.Print($*_)`, `log.Fatalf($*_)`, `log.Fatal($*_)`).
		Where(!m.File().PkgPath.Matches(`/cmd`)).
		Report("use internal/logger instead of the standard log package")
}

// DefaultHTTPClient reports requests made without timeouts. Use
// internal/httpclient which applies a default timeout and user agent.
func DefaultHTTPClient(m dsl.Matcher) {
	m.Import("net/http")
	m.Match(`http.Get($*_)`, `http.Post($*_)`, `http.DefaultClient.$_($*_)`).
		Report("use internal/httpclient, the default client has no timeout")
}

// RawTokenLogging reports push tokens logged as plain strings.
func RawTokenLogging(m dsl.Matcher) {
	m.Match(`logger.String($k, $v)`).
		Where(m["k"].Const && m["k"].Text.Matches(`"(push_)?token"`)).
		Report("log push tokens with logger.Token so only a prefix is written").
		Suggest("logger.Token($k, $v)")
}
