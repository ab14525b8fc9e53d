// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package smpi

import "expvar"

// commMetrics record communicator activity counters. A Comm and all its
// duplicates share one set.
type commMetrics struct {
	sendStarted   expvar.Int
	recvStarted   expvar.Int
	reqComplete   expvar.Int
	reqFailed     expvar.Int
	reqPending    expvar.Int // started, not yet terminal
	bytesSent     expvar.Int
	bytesRecv     expvar.Int
	probeMiss     expvar.Int // probes that found no message
	pollCalls     expvar.Int // calls to Endpoint.Poll
	waitTimeout   expvar.Int // waits that exhausted MaxPolls
	scopeOpened   expvar.Int
	scopeAborted  expvar.Int
	frameRejected expvar.Int // type or count mismatches

	emap *expvar.Map
}

func newCommMetrics() *commMetrics {
	cm := &commMetrics{emap: new(expvar.Map)}
	cm.emap.Set("sends_started", &cm.sendStarted)
	cm.emap.Set("receives_started", &cm.recvStarted)
	cm.emap.Set("requests_complete", &cm.reqComplete)
	cm.emap.Set("requests_failed", &cm.reqFailed)
	cm.emap.Set("requests_pending", &cm.reqPending)
	cm.emap.Set("bytes_sent", &cm.bytesSent)
	cm.emap.Set("bytes_received", &cm.bytesRecv)
	cm.emap.Set("probe_misses", &cm.probeMiss)
	cm.emap.Set("poll_calls", &cm.pollCalls)
	cm.emap.Set("wait_timeouts", &cm.waitTimeout)
	cm.emap.Set("scopes_opened", &cm.scopeOpened)
	cm.emap.Set("scopes_aborted", &cm.scopeAborted)
	cm.emap.Set("frames_rejected", &cm.frameRejected)
	return cm
}
