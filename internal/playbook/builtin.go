package playbook

import "time"

// Builtins returns the builtin playbooks rendered with the given
// parameters, keyed by name.
func Builtins(p Params) map[string]Playbook {
	p = p.WithDefaults()
	return map[string]Playbook{
		"setup":    builtinSetup(p),
		"deploy":   builtinDeploy(p),
		"test":     builtinTest(p),
		"rollback": builtinRollback(p),
	}
}

// IsBuiltin reports whether name is a builtin playbook.
func IsBuiltin(name string) bool {
	_, ok := Builtins(Params{})[name]
	return ok
}

// Resolve looks up a playbook by name. User-defined books override
// builtins with the same name. The second return reports whether the
// name was found at all.
func Resolve(name string, p Params, user map[string]Playbook) (Playbook, bool) {
	if pb, ok := user[name]; ok {
		return pb, true
	}
	pb, ok := Builtins(p)[name]
	return pb, ok
}

// builtinSetup prepares every node to host the model cluster: verifies
// the container runtime sees the GPU, pulls the serve image, starts the
// cluster head on the manager, and joins the peers to it.
func builtinSetup(p Params) Playbook {
	return Playbook{
		Name:        "setup",
		Description: "Prepare the fleet: runtime checks, serve image, cluster head and workers",
		Steps: []Step{
			{Name: "runtime-check", Command: "docker info --format '{{.ServerVersion}}'", Timeout: time.Minute},
			{Name: "gpu-visible", Command: "nvidia-smi -L", Timeout: time.Minute},
			{Name: "pull-image", Command: "docker pull " + serveImage, Timeout: 45 * time.Minute},
			{Name: "head-start", Command: headStartCommand(p), Target: TargetManager, Timeout: 5 * time.Minute},
			{Name: "worker-join", Command: workerJoinCommand(p), Target: TargetPeers, Timeout: 5 * time.Minute},
		},
	}
}

// builtinDeploy downloads the model on every node and launches the serve
// container on the manager. The model download is deliberately unbounded:
// large checkpoints can take hours on a first pull.
func builtinDeploy(p Params) Playbook {
	return Playbook{
		Name:        "deploy",
		Description: "Download the model and launch the serve container on the manager",
		Steps: []Step{
			{Name: "env-check", Command: "test -s " + remoteEnvFile, Timeout: time.Minute},
			{Name: "model-download", Command: modelDownloadCommand(p)},
			{Name: "serve-start", Command: serveStartCommand(p), Target: TargetManager, Timeout: 5 * time.Minute},
			{Name: "serve-wait", Command: serveWaitCommand(p), Target: TargetManager, Timeout: 15 * time.Minute},
		},
	}
}

// builtinTest exercises the running deployment: a completion request
// against the manager's endpoint and a GPU utilization snapshot fleet-wide.
func builtinTest(p Params) Playbook {
	return Playbook{
		Name:        "test",
		Description: "Send a completion request and snapshot GPU state across the fleet",
		Steps: []Step{
			{Name: "completion-check", Command: completionCheckCommand(p), Target: TargetManager, Timeout: 5 * time.Minute},
			{Name: "gpu-report", Command: "nvidia-smi --query-gpu=name,memory.used,utilization.gpu --format=csv,noheader", BestEffort: true, Timeout: time.Minute},
		},
	}
}

// builtinRollback tears the deployment down. Every step is best-effort:
// a partial environment (containers never started, caches never written)
// is the expected precondition for rollback.
func builtinRollback(p Params) Playbook {
	return Playbook{
		Name:        "rollback",
		Description: "Tear down containers, model cache, and generated files",
		Steps: []Step{
			{Name: "stop-serve", Command: "docker rm -f " + serveContainer, Target: TargetManager, Timeout: 2 * time.Minute},
			{Name: "stop-worker", Command: "docker rm -f " + workerContainer, Target: TargetPeers, Timeout: 2 * time.Minute},
			{Name: "stop-head", Command: "docker rm -f " + headContainer, Target: TargetManager, Timeout: 2 * time.Minute},
			{Name: "prune-containers", Command: "docker container prune -f", Timeout: 5 * time.Minute},
			{Name: "clear-model-cache", Command: "rm -rf " + modelCacheDir, Timeout: 10 * time.Minute},
			{Name: "remove-env-file", Command: "rm -f " + remoteEnvFile, Timeout: time.Minute},
		},
	}.BestEffort()
}
