// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"fmt"

	"github.com/circutor/comsrv/internal/points"
)

// SampleKey builds the flat key scheme of spec §6: {channel_id}:{kind_tag}:{point_id}.
func SampleKey(channelID int, kind points.Kind, pointID string) string {
	return fmt.Sprintf("%d:%s:%s", channelID, kind.KindTag(), pointID)
}

// HashKey builds the optional backwards-compat hash key comsrv:{channel_id}:{kind_tag}.
func HashKey(channelID int, kind points.Kind) string {
	return fmt.Sprintf("comsrv:%d:%s", channelID, kind.KindTag())
}

// StatusKey builds the channel health-record key comsrv:status:{channel_id}.
func StatusKey(channelID int) string {
	return fmt.Sprintf("comsrv:status:%d", channelID)
}

// formatValue renders a Sample's value with the precision spec §6 requires:
// "0"/"1" for boolean kinds (Signal/Control), six-decimal for everything else.
func formatValue(s points.Sample) string {
	switch s.Kind {
	case points.Signal, points.Control:
		if s.Engineering != 0 {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%.6f", s.Engineering)
	}
}
