// Package cms reads blog posts from the Contentful Delivery API. Responses
// are validated at the boundary and converted to Post before anything else
// in the server sees them.
package cms
