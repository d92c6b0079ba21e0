// Package models defines the domain entities of the practice tracker and the repository contract
// used to persist them.
//
//   - [PracticeRecord] : one canonical row per user, local date and instrument
//   - [PendingPractice] : a save waiting in the offline queue
//   - [Goal] : a practice goal whose optional fields degrade with the backend schema
//
// All persistent entities implement [Model]. [Repository] defines the CRUD operations shared by
// the repositories package.
package models
