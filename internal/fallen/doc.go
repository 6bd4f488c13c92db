// Package fallen defines the record types shared by every stage of the
// memorial pipeline along with the small collaborator interfaces that the
// stages depend on.
package fallen
