package playbook

import (
	"fmt"
	"strings"
)

// Params holds everything the builtin playbooks interpolate into their
// command strings. Rendering happens here, once, at build time; the
// dispatch layer treats commands as opaque strings.
type Params struct {
	Model       string // model identifier on the hub, e.g. "meta-llama/Llama-3.1-8B-Instruct"
	Port        int    // local port the serve container publishes
	TPSize      int    // tensor parallel size across the fleet
	ManagerAddr string // address peers use to reach the manager
}

// Defaults used when a parameter was never configured.
const (
	DefaultPort   = 8000
	DefaultTPSize = 1
)

const (
	serveImage      = "vllm/vllm-openai:latest"
	headContainer   = "sparkctl-head"
	workerContainer = "sparkctl-worker"
	serveContainer  = "sparkctl-serve"
	clusterPort     = 6379
	remoteEnvFile   = "~/.config/sparkctl/serve.env"
	modelCacheDir   = "~/.cache/huggingface/hub"
)

// WithDefaults returns a copy of p with unset numeric fields filled in.
func (p Params) WithDefaults() Params {
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.TPSize == 0 {
		p.TPSize = DefaultTPSize
	}
	return p
}

// Quote wraps s in single quotes for safe interpolation into a shell
// command, escaping embedded single quotes.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func headStartCommand(p Params) string {
	return fmt.Sprintf(
		"docker rm -f %s >/dev/null 2>&1; "+
			"docker run -d --name %s --gpus all --network host --ipc host "+
			"--entrypoint ray %s start --head --port %d --disable-usage-stats --block",
		headContainer, headContainer, serveImage, clusterPort)
}

func workerJoinCommand(p Params) string {
	return fmt.Sprintf(
		"docker rm -f %s >/dev/null 2>&1; "+
			"docker run -d --name %s --gpus all --network host --ipc host "+
			"--entrypoint ray %s start --address %s --disable-usage-stats --block",
		workerContainer, workerContainer, serveImage,
		Quote(fmt.Sprintf("%s:%d", p.ManagerAddr, clusterPort)))
}

func modelDownloadCommand(p Params) string {
	// The env file pushed during deploy carries HF_TOKEN; source it so the
	// token never appears on a remote command line.
	return fmt.Sprintf("set -a; . %s; set +a; hf download %s",
		remoteEnvFile, Quote(p.Model))
}

func serveStartCommand(p Params) string {
	return fmt.Sprintf(
		"docker rm -f %s >/dev/null 2>&1; "+
			"docker run -d --name %s --gpus all --network host --ipc host "+
			"--env-file %s -v %s:/root/.cache/huggingface/hub "+
			"%s --model %s --port %d --tensor-parallel-size %d",
		serveContainer, serveContainer, remoteEnvFile, modelCacheDir,
		serveImage, Quote(p.Model), p.Port, p.TPSize)
}

func serveWaitCommand(p Params) string {
	return fmt.Sprintf(
		"for i in $(seq 1 120); do "+
			"curl -fsS http://127.0.0.1:%d/health >/dev/null 2>&1 && exit 0; "+
			"sleep 5; done; "+
			"echo 'serve endpoint never became healthy' >&2; exit 1",
		p.Port)
}

func completionCheckCommand(p Params) string {
	body := fmt.Sprintf(`{"model": %q, "prompt": "Say hello.", "max_tokens": 16}`, p.Model)
	return fmt.Sprintf(
		"curl -fsS http://127.0.0.1:%d/v1/completions "+
			"-H 'Content-Type: application/json' -d %s",
		p.Port, Quote(body))
}
