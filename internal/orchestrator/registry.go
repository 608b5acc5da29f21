package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/trinityai/trinity-gateway/internal/config"
)

var (
	current ContainerRuntime
	mu      sync.RWMutex
)

// InitOrchestrator picks the runtime backend named by RUNTIME_BACKEND. In
// auto mode Kubernetes is tried first, then Docker.
func InitOrchestrator(ctx context.Context) error {
	backend := config.Cfg.RuntimeBackend
	if backend == "" {
		backend = "auto"
	}

	if backend == "auto" || backend == "kubernetes" {
		k8s := &KubernetesRuntime{}
		if err := k8s.Initialize(ctx); err == nil && k8s.IsAvailable(ctx) {
			set(k8s)
			log.Println("[orchestrator] using Kubernetes backend")
			return nil
		} else if err != nil {
			log.Printf("[orchestrator] Kubernetes backend unavailable: %v", err)
		}
	}

	if backend == "auto" || backend == "docker" {
		docker := &DockerRuntime{}
		if err := docker.Initialize(ctx); err == nil && docker.IsAvailable(ctx) {
			set(docker)
			log.Println("[orchestrator] using Docker backend")
			return nil
		} else if err != nil {
			log.Printf("[orchestrator] Docker backend unavailable: %v", err)
		}
	}

	log.Println("[orchestrator] WARNING: no runtime backend available")
	return fmt.Errorf("no runtime backend available (tried: %s)", backend)
}

func set(rt ContainerRuntime) {
	mu.Lock()
	current = rt
	mu.Unlock()
}

func Get() ContainerRuntime {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
