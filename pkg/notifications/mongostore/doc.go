// Package mongostore persists notifications in MongoDB.
//
// Status transitions are conditional UpdateOne calls filtered on the
// expected send status, so only one of several racing workers wins.
// Call EnsureIndexes once at startup.
package mongostore
