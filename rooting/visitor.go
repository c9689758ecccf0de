package rooting

import "github.com/Starlight-JS/comet/objheader"

// Visitor is re-exported from objheader so rooting's own API reads
// naturally (constraints and the shadow stack only ever deal with
// visitors, never headers directly).
type Visitor = objheader.Visitor
