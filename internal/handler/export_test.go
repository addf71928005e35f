package handler

// WriteErrorForTest exposes writeError to the external test package.
var WriteErrorForTest = writeError
