/*
Package sax defines the streaming XML event model shared by generators,
transformers, serializers and portal renderers.

A ContentHandler receives document, element, text, comment and processing
instruction events. Parse feeds a handler from an XML byte stream, Writer
turns events back into XML, and Recorder captures events into a compact
byte stream that can be stored and replayed later without re-parsing.
*/
package sax
