/*
Package planner turns a request to run an action into a stored task.

# Preparing a Task

	Request{action, target, config, hc}
	   │
	   ├─▶ action belongs to the target's prototype      ACTION_NOT_FOUND
	   ├─▶ state / multi-state availability             TASK_ERROR
	   ├─▶ blocking concerns of the target              TASK_ERROR
	   ├─▶ action config against the action's own spec   CONFIG_*, TASK_GENERATOR_ERROR
	   ├─▶ host-component map against hc_acl            TASK_GENERATOR_ERROR, TASK_ERROR
	   │
	   ▼
	TaskLog{created} + one JobLog per step + stdout/stderr LogStorage
	   │
	   ├─▶ new host-component map applied, old one kept on the task
	   ├─▶ job lock over the target's scope and the touched hosts
	   └─▶ data/run/<job-id>/{config.json, inventory.json, ansible.cfg}

Everything up to the lock happens in one transaction, so a rejected request
leaves no task behind and two tasks can't lock the same entities.

# Job Files

config.json carries the global adcm config, the context (target type and
the ids of the target and its parents), the directories of the job and the
job itself: its script, the resolved playbook, params and the action config.
Scripts starting with "./" are resolved against the directory the prototype
was declared in; the adcm prototype keeps its playbooks under conf/.

inventory.json groups hosts for ansible:

	CLUSTER              every host of the cluster
	<service>            hosts with a component of the service
	<service>.<comp>     hosts the component is placed on
	<service>.<comp>.add / .remove
	                     placements the task adds or removes
	PROVIDER, HOST       provider and host actions
	127.0.0.1            adcm actions

all.vars holds the cluster with its services and components, or the
provider. Host vars hold the host config plus the effective config of the
group configs the host belongs to. Passwords are rendered as
{"__ansible_vault": ...}, file values as the path of the materialized file,
inactive groups as null.

Only the files of the first job are written by Prepare; the runner renders
the others right before they start, so they see values earlier jobs changed.
*/
package planner
