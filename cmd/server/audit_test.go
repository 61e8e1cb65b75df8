package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"keeper/internal/platform/config"
)

func TestResolveSink(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		hasDB      bool
		want       string
	}{
		{name: "memory without database", configured: config.SinkMemory, want: config.SinkMemory},
		{name: "kafka without database", configured: config.SinkKafka, want: config.SinkKafka},
		{name: "kafka with database uses outbox", configured: config.SinkKafka, hasDB: true, want: config.SinkPostgres},
		{name: "memory with database uses outbox", configured: config.SinkMemory, hasDB: true, want: config.SinkPostgres},
		{name: "postgres", configured: config.SinkPostgres, hasDB: true, want: config.SinkPostgres},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveSink(tt.configured, tt.hasDB))
		})
	}
}
