package launch

import "context"

// FakeLauncher replays a scripted sequence of results, one per Launch
// call, for exercising Driver's retry loop without a real hub (spec.md
// §12's FakeBuild companion on the launch side).
type FakeLauncher struct {
	Results []LaunchResult
	calls   int
}

// LaunchResult is either a ServerInfo or an error, selected per call.
type LaunchResult struct {
	Info ServerInfo
	Err  error
}

func (f *FakeLauncher) Launch(_ context.Context, _ Request) (ServerInfo, error) {
	if f.calls >= len(f.Results) {
		return ServerInfo{}, f.Results[len(f.Results)-1].Err
	}
	r := f.Results[f.calls]
	f.calls++
	return r.Info, r.Err
}

func (f *FakeLauncher) Calls() int { return f.calls }
