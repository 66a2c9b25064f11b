// Package ledger persists per-run transfer records so an interrupted run can
// resume without repeating completed work.
//
// The ledger is a single JSON object stored in a gocloud.dev/blob bucket:
//
//	{
//	   "1700000000.123456": {
//	      "http://host/a": {
//	         "checksum": null,
//	         "completed_timestamp": 1700000004.5,
//	         "filepath": "/data/a",
//	         "filesize": 100,
//	         "method": "PUT"
//	      }
//	   }
//	}
//
// Top-level keys are run start times in unix seconds and are kept in numeric
// order. Each run holds a full snapshot of the items it touched. Only the most
// recent run is consulted by ResumeFilter.
//
// Any blob URL works as storage: file:// for the local default, mem:// in
// tests and s3:// for shared state.
package ledger
