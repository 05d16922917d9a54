// Package alerts implements the rule evaluation engine and webhook delivery
// for subject alerting. Rules are evaluated against each subject record after
// every accepted reading; webhooks are delivered to Teams, Slack, or generic
// HTTP targets.
package alerts
