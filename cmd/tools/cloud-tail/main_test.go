package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		m    *pointcloud.Measurement
		want string
	}{
		{
			name: "empty",
			m:    pointcloud.MustNew(nil, nil, nil),
			want: "size=0 color=false value=false",
		},
		{
			name: "with extents",
			m: pointcloud.MustNew(
				[]pointcloud.Point{{X: 0.1, Y: 0.2, Z: 0.3}, {X: -1.5, Y: 2.25, Z: 0}},
				nil,
				[]float64{1, 2},
			),
			want: "size=2 color=false value=true x=[-1.500,0.100] y=[0.200,2.250] z=[0.000,0.300]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.m))
		})
	}
}
