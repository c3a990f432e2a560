// Package github implements the remote service contract runnerprobe drives:
// workflow dispatch, run listing, run detail and job listing on the GitHub
// Actions REST API. All traffic goes through an httpclient.Client, so every
// call is paced, retried and traced the same way.
package github
