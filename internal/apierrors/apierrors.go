// Package apierrors enumerates the error kinds of spec.md §7 and the
// bilingual (English + Japanese) user-facing messages BinderHub has
// always shipped for them. The wording is preserved verbatim from the
// source this was distilled from — deployed clients may pattern-match
// on it.
package apierrors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, inspected with errors.Is/errors.As at the
// coordinator boundary (spec.md §7).
var (
	// ErrConfigurationMiss is returned for an unknown provider_prefix.
	ErrConfigurationMiss = errors.New("no provider configured for prefix")

	// ErrBannedRepo is returned when a Provider reports IsBanned().
	ErrBannedRepo = errors.New("repository is banned")

	// ErrAuthRequired is not a failure: it signals the coordinator
	// should emit an {phase: auth} frame and end the request normally.
	ErrAuthRequired = errors.New("authorization required")

	// ErrRefResolutionFailure wraps both a Provider error and a nil
	// ("not found") ref.
	ErrRefResolutionFailure = errors.New("ref resolution failed")

	// ErrRegistryTransport marks a transport-level failure talking to
	// the container registry; swallowed up to 3 attempts (spec.md §4.4)
	// before being treated as "not found".
	ErrRegistryTransport = errors.New("registry transport error")

	// ErrBuildFailure marks a build that failed via a builder-emitted
	// log event.
	ErrBuildFailure = errors.New("build failed")

	// ErrLaunchFailure marks a launch that exhausted its retries.
	ErrLaunchFailure = errors.New("launch failed")

	// ErrClientDisconnect marks a write failure caused by the client
	// closing the connection. Never surfaced to a client — there is no
	// one to notify.
	ErrClientDisconnect = errors.New("client disconnected")
)

// ConfigurationMiss builds the message for an unknown provider_prefix.
func ConfigurationMiss(prefix string) error {
	return fmt.Errorf("%w: no provider found for prefix %q", ErrConfigurationMiss, prefix)
}

// Banned builds the bilingual banned-repo message for spec (the
// provider-opaque spec string the user requested).
func Banned(spec string) string {
	return fmt.Sprintf(
		"Sorry, %s has been temporarily disabled from launching. Please contact admins for more info!\n%sが一時的に起動できなくなりました。管理者へお問い合わせください。",
		spec, spec,
	)
}

// RefResolutionError builds the message for a Provider.ResolvedRef
// error (as opposed to a clean "not found").
func RefResolutionError(key string, err error) string {
	return fmt.Sprintf(
		"Error resolving ref for %s: %s\nリポジトリURLを確認してください。",
		key, err,
	)
}

// RefNotFound builds the guided failure message for an unresolvable
// ref, including the GitHub-specific master/main swap hint when
// providerName is "GitHub" and unresolvedRef is one of those two
// branch names (spec.md §3, §8 scenario guidance).
func RefNotFound(key, providerName, unresolvedRef string) string {
	lines := []string{
		fmt.Sprintf("Could not resolve ref for %s. Double check your URL.", key),
		"リポジトリURLを確認してください。",
	}
	if providerName == "GitHub" {
		lines = append(lines,
			`GitHub recently changed default branches from "master" to "main".`,
			`GitHub は2020年に、デフォルトブランチ名を "master" から "main" へ変更しました。`,
		)
		switch unresolvedRef {
		case "master":
			lines = append(lines, `Did you mean the "main" branch?`, `"main" ブランチではありませんか？`)
		case "main":
			lines = append(lines, `Did you mean the "master" branch?`, `"master" ブランチではありませんか？`)
		}
	} else {
		lines = append(lines, "Is your repo public?", "リポジトリが公開されていない可能性があります。")
	}

	msg := lines[0]
	for _, l := range lines[1:] {
		msg += "\n" + l
	}
	return msg
}

// QuotaExceeded builds the bilingual quota-exceeded message for
// repoURL.
func QuotaExceeded(repoURL string) string {
	return fmt.Sprintf(
		"Too many users running %s! Try again soon.\n%sの実行が集中しています。しばらく待っても改善しない場合は、管理者へお問い合わせください。",
		repoURL, repoURL,
	)
}

// LaunchRetrying builds the bilingual message emitted after a
// non-terminal launch failure, attempt being the 1-based attempt
// number that just failed.
func LaunchRetrying(attempt int) string {
	return fmt.Sprintf(
		"Launch attempt %d failed, retrying...\n起動に%d回失敗しました。リトライしています...",
		attempt, attempt,
	)
}
